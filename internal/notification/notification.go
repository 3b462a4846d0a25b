// Package notification sends best-effort customer notices. Callers log
// failures and never let them affect entitlement state.
package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const tagPaymentFailed = "payment-failed"

var Module = fx.Module("notification",
	fx.Provide(NewEmailNotifier),
)

type PaymentFailedNotice struct {
	To               string
	InvoiceID        string
	AmountDue        int64
	Currency         string
	HostedInvoiceURL string
}

type Notifier interface {
	PaymentFailed(ctx context.Context, notice PaymentFailedNotice) error
}

type EmailNotifier struct {
	provider email.Provider
	log      *zap.Logger
	tmpl     *template.Template
	appName  string
}

func NewEmailNotifier(provider email.Provider, cfg config.Config, log *zap.Logger) (Notifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = "Gatekeeper"
	}
	return &EmailNotifier{
		provider: provider,
		log:      log.Named("notification"),
		tmpl:     tmpl,
		appName:  appName,
	}, nil
}

func (n *EmailNotifier) PaymentFailed(ctx context.Context, notice PaymentFailedNotice) error {
	to := strings.TrimSpace(notice.To)
	if to == "" {
		return email.ErrNoRecipients
	}

	var body bytes.Buffer
	err := n.tmpl.ExecuteTemplate(&body, "payment_failed.html", map[string]any{
		"AppName":          n.appName,
		"InvoiceID":        notice.InvoiceID,
		"Amount":           formatAmount(notice.AmountDue, notice.Currency),
		"HostedInvoiceURL": notice.HostedInvoiceURL,
	})
	if err != nil {
		return fmt.Errorf("render payment_failed: %w", err)
	}

	if err := n.provider.Send(ctx, email.Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("%s: payment failed", n.appName),
		HTMLBody: body.String(),
		Tag:      tagPaymentFailed,
	}); err != nil {
		return err
	}

	n.log.Info("payment failure notice sent", zap.String("invoice_id", notice.InvoiceID))
	return nil
}

// formatAmount renders minor units for two-decimal currencies.
func formatAmount(minor int64, currency string) string {
	if minor <= 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency)))
}
