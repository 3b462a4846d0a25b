package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureProvider struct {
	sent []email.Message
}

func (p *captureProvider) Send(ctx context.Context, msg email.Message) error {
	p.sent = append(p.sent, msg)
	return nil
}

func TestPaymentFailedRendersNotice(t *testing.T) {
	provider := &captureProvider{}
	n, err := NewEmailNotifier(provider, config.Config{AppName: "Acme Cloud"}, zap.NewNop())
	require.NoError(t, err)

	err = n.PaymentFailed(context.Background(), PaymentFailedNotice{
		To:               "billing@acme.test",
		InvoiceID:        "in_1",
		AmountDue:        4905,
		Currency:         "usd",
		HostedInvoiceURL: "https://pay.example/in_1",
	})
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)

	msg := provider.sent[0]
	assert.Equal(t, []string{"billing@acme.test"}, msg.To)
	assert.Equal(t, "Acme Cloud: payment failed", msg.Subject)
	assert.True(t, strings.Contains(msg.HTMLBody, "49.05 USD"))
	assert.True(t, strings.Contains(msg.HTMLBody, "https://pay.example/in_1"))
}

func TestPaymentFailedWithoutRecipient(t *testing.T) {
	n, err := NewEmailNotifier(&captureProvider{}, config.Config{}, zap.NewNop())
	require.NoError(t, err)

	err = n.PaymentFailed(context.Background(), PaymentFailedNotice{InvoiceID: "in_1"})
	assert.True(t, errors.Is(err, email.ErrNoRecipients))
}
