package stripe

import (
	"testing"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(config.Config{}, zap.NewNop())
	require.ErrorIs(t, err, billingprovider.ErrMissingSecretKey)

	c, err := New(config.Config{Stripe: config.StripeConfig{SecretKey: "sk_test_123"}}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, c.api)
}

func TestToSubscription(t *testing.T) {
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sub := &stripego.Subscription{
		ID:               "sub_1",
		Status:           stripego.SubscriptionStatusPastDue,
		CurrentPeriodEnd: periodEnd.Unix(),
		Customer:         &stripego.Customer{ID: "cus_1"},
		Metadata:         map[string]string{"package_keys": "reports,exports"},
		Items: &stripego.SubscriptionItemList{
			Data: []*stripego.SubscriptionItem{
				{ID: "si_1", Price: &stripego.Price{ID: "price_reports"}},
				{ID: "si_2", Price: &stripego.Price{ID: "price_exports"}},
			},
		},
	}

	got := toSubscription(sub)
	assert.Equal(t, "sub_1", got.ID)
	assert.Equal(t, "past_due", got.Status)
	assert.Equal(t, "cus_1", got.CustomerRef)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, got.CurrentPeriodEnd.Equal(periodEnd))
	assert.Equal(t, []billingprovider.SubscriptionItem{
		{ID: "si_1", PriceID: "price_reports"},
		{ID: "si_2", PriceID: "price_exports"},
	}, got.Items)
}

func TestToSubscriptionWithoutPeriodEnd(t *testing.T) {
	got := toSubscription(&stripego.Subscription{ID: "sub_2", Status: stripego.SubscriptionStatusActive})
	assert.Nil(t, got.CurrentPeriodEnd)
	assert.Empty(t, got.CustomerRef)
	assert.Empty(t, got.Items)
}

func TestCheckoutSessionParamsFollowMode(t *testing.T) {
	items := []*stripego.CheckoutSessionLineItemParams{{Price: stripego.String("price_lifetime")}}
	req := billingprovider.CheckoutSessionRequest{
		Mode:       billingprovider.CheckoutModePayment,
		SuccessURL: "https://app.test/ok",
		CancelURL:  "https://app.test/cancel",
		Metadata:   map[string]string{"org_id": "42"},
	}

	payment := checkoutSessionParams(req, items)
	assert.Equal(t, string(stripego.CheckoutSessionModePayment), *payment.Mode)
	assert.Nil(t, payment.SubscriptionData)
	require.NotNil(t, payment.PaymentIntentData)
	assert.Equal(t, "42", payment.PaymentIntentData.Metadata["org_id"])

	req.Mode = billingprovider.CheckoutModeSubscription
	recurring := checkoutSessionParams(req, items)
	assert.Equal(t, string(stripego.CheckoutSessionModeSubscription), *recurring.Mode)
	assert.Nil(t, recurring.PaymentIntentData)
	require.NotNil(t, recurring.SubscriptionData)
	assert.Equal(t, "42", recurring.SubscriptionData.Metadata["org_id"])
}
