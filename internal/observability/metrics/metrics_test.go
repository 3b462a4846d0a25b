package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("customer_id", "456"),
		attribute.String("event_type", "invoice.payment_failed"),
		attribute.String("outcome", "processed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" || attr.Key == "customer_id" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "checkout.session.completed", "processed")
	m.RecordAccessDecision(context.Background(), false, "suspended")
	m.RecordEntitlementTransition(context.Background(), "SUSPENDED", 2)
	m.RecordRateLimitDenied(context.Background(), "billing_portal")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "gatekeeper-test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "customer.subscription.updated", "ignored")
	m.RecordEntitlementTransition(context.Background(), "ACTIVE", 0)
}
