// Package providertest offers an in-memory billing provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
)

type RemovedItem struct {
	SubscriptionID string
	ItemID         string
	Metadata       map[string]string
}

// Fake records every call. Set Err to make each call fail with a wrapped
// billingprovider.ErrProviderCall.
type Fake struct {
	mu sync.Mutex

	Subscriptions map[string]*billingprovider.Subscription
	Err           error

	Calls            map[string]int
	CheckoutRequests []billingprovider.CheckoutSessionRequest
	PortalCustomers  []string
	Canceled         []string
	Removed          []RemovedItem
}

func New() *Fake {
	return &Fake{
		Subscriptions: make(map[string]*billingprovider.Subscription),
		Calls:         make(map[string]int),
	}
}

func (f *Fake) AddSubscription(sub *billingprovider.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscriptions[sub.ID] = sub
}

func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *Fake) record(method string) error {
	f.Calls[method]++
	if f.Err != nil {
		return fmt.Errorf("%w: %s: %w", billingprovider.ErrProviderCall, method, f.Err)
	}
	return nil
}

func (f *Fake) GetSubscription(_ context.Context, subscriptionID string) (*billingprovider.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return nil, billingprovider.ErrSubscriptionMissing
	}
	clone := *sub
	return &clone, nil
}

func (f *Fake) CreateCheckoutSession(_ context.Context, req billingprovider.CheckoutSessionRequest) (*billingprovider.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	f.CheckoutRequests = append(f.CheckoutRequests, req)
	id := fmt.Sprintf("cs_test_%d", len(f.CheckoutRequests))
	return &billingprovider.Session{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) CreatePortalSession(_ context.Context, customerRef, _ string) (*billingprovider.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePortalSession"); err != nil {
		return nil, err
	}
	f.PortalCustomers = append(f.PortalCustomers, customerRef)
	id := fmt.Sprintf("bps_test_%d", len(f.PortalCustomers))
	return &billingprovider.Session{ID: id, URL: "https://portal.test/" + id}, nil
}

func (f *Fake) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CancelSubscription"); err != nil {
		return err
	}
	f.Canceled = append(f.Canceled, subscriptionID)
	return nil
}

func (f *Fake) RemoveSubscriptionItem(_ context.Context, subscriptionID, itemID string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveSubscriptionItem"); err != nil {
		return err
	}
	f.Removed = append(f.Removed, RemovedItem{SubscriptionID: subscriptionID, ItemID: itemID, Metadata: metadata})
	return nil
}

var _ billingprovider.Provider = (*Fake)(nil)
