package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(payload []byte) string {
	return testutil.StripeSignatureHeader(testSecret, payload, time.Now())
}

func TestParseRejectsMissingAndBadSignatures(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_1", "checkout.session.completed", map[string]any{"id": "cs_1", "object": "checkout.session"})

	_, err := parser.Parse(body, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	forged := testutil.StripeSignatureHeader("whsec_other", body, time.Now())
	_, err = parser.Parse(body, forged)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	_, err = NewParser("").Parse(body, sign(body))
	assert.True(t, errors.Is(err, domain.ErrSecretMissing))
}

func TestParseCheckoutCompleted(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_checkout", "checkout.session.completed", map[string]any{
		"id":           "cs_123",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"customer_details": map[string]any{
			"email": "owner@acme.test",
			"name":  "Acme Owner",
		},
		"metadata": map[string]any{
			"org_id":       "42",
			"package_keys": "analytics,sso",
		},
	})

	evt, err := parser.Parse(body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, "evt_checkout", evt.ID)

	completed, ok := evt.Payload.(domain.PurchaseCompleted)
	require.True(t, ok, "unexpected payload %T", evt.Payload)
	assert.Equal(t, "sub_123", completed.SubscriptionID)
	assert.Equal(t, "cus_123", completed.CustomerRef)
	assert.Equal(t, "owner@acme.test", completed.CustomerEmail)
	assert.Equal(t, snowflake.ID(42), completed.Metadata.OrgID)
	assert.Equal(t, []string{"analytics", "sso"}, completed.Metadata.PackageKeys)
	assert.False(t, completed.OneTime())
}

func TestParseSubscriptionWithoutMetadataIsReportedAbsent(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_sub", "customer.subscription.updated", map[string]any{
		"id":       "sub_999",
		"object":   "subscription",
		"status":   "active",
		"customer": "cus_999",
	})

	evt, err := parser.Parse(body, sign(body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingprovider.ErrMetadataAbsent))
	require.NotNil(t, evt)
	assert.Nil(t, evt.Payload)
}

func TestParseSubscriptionUpdated(t *testing.T) {
	parser := NewParser(testSecret)
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	body := testutil.StripeEvent(t, "evt_sub_upd", "customer.subscription.updated", map[string]any{
		"id":                 "sub_1",
		"object":             "subscription",
		"status":             "past_due",
		"customer":           "cus_1",
		"current_period_end": periodEnd.Unix(),
		"metadata":           map[string]any{"org_id": "42", "package_keys": "sso"},
	})

	evt, err := parser.Parse(body, sign(body))
	require.NoError(t, err)
	changed, ok := evt.Payload.(domain.SubscriptionChanged)
	require.True(t, ok)
	assert.Equal(t, "past_due", changed.Status)
	require.NotNil(t, changed.CurrentPeriodEnd)
	assert.True(t, changed.CurrentPeriodEnd.Equal(periodEnd))
}

func TestParsePaymentFailed(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_inv", "invoice.payment_failed", map[string]any{
		"id":                 "in_1",
		"object":             "invoice",
		"customer":           "cus_1",
		"customer_email":     "billing@acme.test",
		"amount_due":         4900,
		"currency":           "usd",
		"attempt_count":      2,
		"hosted_invoice_url": "https://pay.example/in_1",
	})

	evt, err := parser.Parse(body, sign(body))
	require.NoError(t, err)
	failed, ok := evt.Payload.(domain.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "cus_1", failed.CustomerRef)
	assert.Equal(t, int64(4900), failed.AmountDue)
	assert.Equal(t, "USD", failed.Currency)
	assert.Equal(t, int64(2), failed.AttemptCount)
}

func TestParseUnknownTypeHasNoPayload(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_other", "charge.refunded", map[string]any{"id": "ch_1", "object": "charge"})

	evt, err := parser.Parse(body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", evt.Type)
	assert.Nil(t, evt.Payload)
}

func TestParseAuthenticButMalformedEventIsReturned(t *testing.T) {
	parser := NewParser(testSecret)

	badMetadata := testutil.StripeEvent(t, "evt_bad_md", "checkout.session.completed", map[string]any{
		"id":       "cs_bad",
		"object":   "checkout.session",
		"metadata": "not-a-map",
	})
	evt, err := parser.Parse(badMetadata, sign(badMetadata))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
	assert.False(t, errors.Is(err, domain.ErrInvalidSignature))
	require.NotNil(t, evt)
	assert.Equal(t, "evt_bad_md", evt.ID)
	assert.Nil(t, evt.Payload)

	noData := []byte(`{"id":"evt_no_data","object":"event","type":"customer.subscription.updated","created":1767225600}`)
	evt, err = parser.Parse(noData, sign(noData))
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
	require.NotNil(t, evt)
	assert.Equal(t, "evt_no_data", evt.ID)

	notJSON := []byte(`not json at all`)
	evt, err = parser.Parse(notJSON, sign(notJSON))
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
	require.NotNil(t, evt)
}

func TestParseOneTimeCheckoutFollowsMode(t *testing.T) {
	parser := NewParser(testSecret)
	body := testutil.StripeEvent(t, "evt_payment", "checkout.session.completed", map[string]any{
		"id":       "cs_pay",
		"object":   "checkout.session",
		"mode":     "payment",
		"customer": "cus_1",
		"metadata": map[string]any{"org_id": "42", "package_keys": "lifetime"},
	})

	evt, err := parser.Parse(body, sign(body))
	require.NoError(t, err)
	completed, ok := evt.Payload.(domain.PurchaseCompleted)
	require.True(t, ok)
	assert.True(t, completed.OneTime())

	completed.Mode = "subscription"
	assert.False(t, completed.OneTime())
}
