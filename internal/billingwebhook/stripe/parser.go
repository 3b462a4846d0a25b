package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const SignatureHeader = "Stripe-Signature"

// Parser verifies Stripe deliveries and maps them to typed events.
type Parser struct {
	secret string
}

func NewParser(secret string) *Parser {
	return &Parser{secret: strings.TrimSpace(secret)}
}

// Parse returns ErrInvalidSignature for unauthenticated input. Once the
// signature holds, decode failures (ErrInvalidPayload) and metadata contract
// failures come back together with the event so the caller can acknowledge
// and skip it.
func (p *Parser) Parse(payload []byte, signatureHeader string) (*domain.Event, error) {
	if p.secret == "" {
		return nil, domain.ErrSecretMissing
	}
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return nil, domain.ErrInvalidSignature
	}

	// Signature first, decoding second: an authentic body that fails to decode
	// is still acknowledged.
	if err := webhook.ValidatePayload(payload, signatureHeader, p.secret); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	var raw stripego.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return &domain.Event{Type: "unknown"}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	evt := &domain.Event{
		ID:         raw.ID,
		Type:       string(raw.Type),
		OccurredAt: time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return evt, fmt.Errorf("%w: event without data.object", domain.ErrInvalidPayload)
	}

	switch evt.Type {
	case domain.EventCheckoutCompleted:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return evt, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		completed, err := purchaseCompleted(&session)
		if err != nil {
			return evt, err
		}
		evt.Payload = *completed
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		var sub stripego.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return evt, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		md, err := billingprovider.ParsePurchaseMetadata(sub.Metadata)
		if err != nil {
			return evt, err
		}
		evt.Payload = domain.SubscriptionChanged{
			SubscriptionID:   sub.ID,
			CustomerRef:      customerRef(sub.Customer),
			Status:           string(sub.Status),
			CurrentPeriodEnd: unixPtr(sub.CurrentPeriodEnd),
			Metadata:         *md,
		}
	case domain.EventSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return evt, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		md, err := billingprovider.ParsePurchaseMetadata(sub.Metadata)
		if err != nil {
			return evt, err
		}
		evt.Payload = domain.SubscriptionDeleted{
			SubscriptionID: sub.ID,
			CustomerRef:    customerRef(sub.Customer),
			Metadata:       *md,
		}
	case domain.EventInvoicePaymentFail:
		var invoice stripego.Invoice
		if err := json.Unmarshal(raw.Data.Raw, &invoice); err != nil {
			return evt, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		ref := customerRef(invoice.Customer)
		if ref == "" {
			return evt, fmt.Errorf("%w: invoice without customer", billingprovider.ErrInvalidMetadata)
		}
		evt.Payload = domain.PaymentFailed{
			InvoiceID:        invoice.ID,
			CustomerRef:      ref,
			CustomerEmail:    invoice.CustomerEmail,
			AmountDue:        invoice.AmountDue,
			Currency:         strings.ToUpper(string(invoice.Currency)),
			AttemptCount:     invoice.AttemptCount,
			HostedInvoiceURL: invoice.HostedInvoiceURL,
		}
	}

	return evt, nil
}

func purchaseCompleted(session *stripego.CheckoutSession) (*domain.PurchaseCompleted, error) {
	md, err := billingprovider.ParsePurchaseMetadata(session.Metadata)
	if err != nil {
		return nil, err
	}
	out := &domain.PurchaseCompleted{
		SessionID:     session.ID,
		Mode:          string(session.Mode),
		CustomerRef:   customerRef(session.Customer),
		CustomerEmail: strings.TrimSpace(session.CustomerEmail),
		Metadata:      *md,
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if details := session.CustomerDetails; details != nil {
		if email := strings.TrimSpace(details.Email); email != "" {
			out.CustomerEmail = email
		}
		out.CustomerName = strings.TrimSpace(details.Name)
	}
	return out, nil
}

func customerRef(c *stripego.Customer) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.ID)
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
