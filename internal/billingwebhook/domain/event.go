package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
)

const ProviderStripe = "stripe"

// Provider event types this service reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaymentFail  = "invoice.payment_failed"
)

// Event is a verified provider notification. Payload is one of the typed
// payloads below, or nil for event types this service does not handle.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Payload    any
}

type PurchaseCompleted struct {
	SessionID      string
	Mode           string
	SubscriptionID string
	CustomerRef    string
	CustomerEmail  string
	CustomerName   string
	Metadata       billingprovider.PurchaseMetadata
}

// OneTime reports whether the checkout was a one-time payment.
func (p PurchaseCompleted) OneTime() bool {
	return p.Mode == string(billingprovider.CheckoutModePayment)
}

type SubscriptionChanged struct {
	SubscriptionID   string
	CustomerRef      string
	Status           string
	CurrentPeriodEnd *time.Time
	Metadata         billingprovider.PurchaseMetadata
}

type SubscriptionDeleted struct {
	SubscriptionID string
	CustomerRef    string
	Metadata       billingprovider.PurchaseMetadata
}

type PaymentFailed struct {
	InvoiceID        string
	CustomerRef      string
	CustomerEmail    string
	AmountDue        int64
	Currency         string
	AttemptCount     int64
	HostedInvoiceURL string
}

// Handler applies verified events to local state. Implementations must be
// idempotent: the same event may be delivered more than once.
type Handler interface {
	HandlePurchaseCompleted(ctx context.Context, evt PurchaseCompleted) error
	HandleSubscriptionChanged(ctx context.Context, evt SubscriptionChanged) error
	HandleSubscriptionDeleted(ctx context.Context, evt SubscriptionDeleted) error
	HandlePaymentFailed(ctx context.Context, evt PaymentFailed) error
}
