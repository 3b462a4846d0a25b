package billingprovider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderCall wraps every failed outbound call so callers can abort before writing.
	ErrProviderCall        = errors.New("provider_call_failed")
	ErrMissingSecretKey    = errors.New("missing_provider_secret_key")
	ErrSubscriptionMissing = errors.New("provider_subscription_not_found")
)

// Provider is the outbound surface of the billing provider used by this service.
type Provider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*Session, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*Session, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	RemoveSubscriptionItem(ctx context.Context, subscriptionID, itemID string, metadata map[string]string) error
}

type Subscription struct {
	ID               string
	CustomerRef      string
	Status           string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
	Items            []SubscriptionItem
}

type SubscriptionItem struct {
	ID      string
	PriceID string
}

// CheckoutMode selects between recurring and one-time checkout.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

type CheckoutSessionRequest struct {
	Mode          CheckoutMode
	PriceIDs      []string
	CustomerRef   string
	CustomerEmail string
	ClientRef     string
	SuccessURL    string
	CancelURL     string
	// Metadata is copied onto the session and onto the subscription or
	// payment it creates.
	Metadata map[string]string
}

type Session struct {
	ID  string
	URL string
}
