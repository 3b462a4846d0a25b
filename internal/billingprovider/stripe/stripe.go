package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/config"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
)

const prorationCreate = "create_prorations"

// Client talks to Stripe through one API client built at startup.
type Client struct {
	api *client.API
	log *zap.Logger
}

// New validates the Stripe configuration and fails fast when the secret key is absent.
func New(cfg config.Config, log *zap.Logger) (*Client, error) {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return nil, billingprovider.ErrMissingSecretKey
	}
	return &Client{
		api: client.New(key, nil),
		log: log.Named("billing.provider.stripe"),
	}, nil
}

// Provide exposes the client behind the provider interface.
func Provide(cfg config.Config, log *zap.Logger) (billingprovider.Provider, error) {
	c, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*billingprovider.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription %s: %w", billingprovider.ErrProviderCall, subscriptionID, err)
	}
	if sub == nil {
		return nil, billingprovider.ErrSubscriptionMissing
	}
	return toSubscription(sub), nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req billingprovider.CheckoutSessionRequest) (*billingprovider.Session, error) {
	lineItems := make([]*stripego.CheckoutSessionLineItemParams, 0, len(req.PriceIDs))
	for _, priceID := range req.PriceIDs {
		lineItems = append(lineItems, &stripego.CheckoutSessionLineItemParams{
			Price:    stripego.String(priceID),
			Quantity: stripego.Int64(1),
		})
	}

	params := checkoutSessionParams(req, lineItems)
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.ClientRef != "" {
		params.ClientReferenceID = stripego.String(req.ClientRef)
	}
	switch {
	case req.CustomerRef != "":
		params.Customer = stripego.String(req.CustomerRef)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripego.String(req.CustomerEmail)
	}
	if req.Mode == billingprovider.CheckoutModePayment && req.CustomerRef == "" {
		// Payment mode only creates a customer on request; the portal needs one.
		params.CustomerCreation = stripego.String(string(stripego.CheckoutSessionCustomerCreationAlways))
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", billingprovider.ErrProviderCall, err)
	}
	c.log.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("mode", string(req.Mode)),
		zap.Int("line_items", len(lineItems)),
	)
	return &billingprovider.Session{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*billingprovider.Session, error) {
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerRef),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx
	session, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create portal session: %w", billingprovider.ErrProviderCall, err)
	}
	return &billingprovider.Session{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: cancel subscription %s: %w", billingprovider.ErrProviderCall, subscriptionID, err)
	}
	c.log.Info("subscription canceled", zap.String("subscription_id", subscriptionID))
	return nil
}

// RemoveSubscriptionItem deletes one line item with proration, then rewrites the
// subscription metadata so later events describe the remaining packages.
func (c *Client) RemoveSubscriptionItem(ctx context.Context, subscriptionID, itemID string, metadata map[string]string) error {
	delParams := &stripego.SubscriptionItemParams{
		ProrationBehavior: stripego.String(prorationCreate),
	}
	delParams.Context = ctx
	if _, err := c.api.SubscriptionItems.Del(itemID, delParams); err != nil {
		return fmt.Errorf("%w: delete subscription item %s: %w", billingprovider.ErrProviderCall, itemID, err)
	}

	if len(metadata) > 0 {
		updateParams := &stripego.SubscriptionParams{}
		updateParams.Context = ctx
		for k, v := range metadata {
			updateParams.AddMetadata(k, v)
		}
		if _, err := c.api.Subscriptions.Update(subscriptionID, updateParams); err != nil {
			return fmt.Errorf("%w: update subscription %s metadata: %w", billingprovider.ErrProviderCall, subscriptionID, err)
		}
	}

	c.log.Info("subscription item removed",
		zap.String("subscription_id", subscriptionID),
		zap.String("item_id", itemID),
	)
	return nil
}

func toSubscription(sub *stripego.Subscription) *billingprovider.Subscription {
	out := &billingprovider.Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			converted := billingprovider.SubscriptionItem{ID: item.ID}
			if item.Price != nil {
				converted.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, converted)
		}
	}
	return out
}

// checkoutSessionParams picks the session mode. Metadata is mirrored onto the
// subscription or payment intent so later events carry it too.
func checkoutSessionParams(req billingprovider.CheckoutSessionRequest, lineItems []*stripego.CheckoutSessionLineItemParams) *stripego.CheckoutSessionParams {
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripego.CheckoutSessionParams{
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems:  lineItems,
	}
	if req.Mode == billingprovider.CheckoutModePayment {
		params.Mode = stripego.String(string(stripego.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		}
		return params
	}
	params.Mode = stripego.String(string(stripego.CheckoutSessionModeSubscription))
	params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{
		Metadata: metadata,
	}
	return params
}
