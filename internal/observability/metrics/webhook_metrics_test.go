package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"gorm.io/gorm"
)

func TestClassifyWebhookFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: WebhookFailureReasonDeadlineExceeded,
		},
		{
			name: "provider_call",
			err:  fmt.Errorf("fetch subscription sub_1: %w", billingprovider.ErrProviderCall),
			want: WebhookFailureReasonProviderCall,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: WebhookFailureReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: WebhookFailureReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: WebhookFailureReasonUniqueViolation,
		},
		{
			name: "other_pg_error",
			err:  &pgconn.PgError{Code: "42P01"},
			want: WebhookFailureReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: WebhookFailureReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyWebhookFailure(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestWebhookMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWebhookMetrics(registry, Config{ServiceName: "gatekeeper", Environment: "test"})

	m.IncSignatureError()
	m.IncSignatureError()
	m.IncHandlerFailure("invoice.payment_failed", billingprovider.ErrProviderCall)
	m.ObserveHandlerDuration("invoice.payment_failed", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.signatureErrors); got != 2 {
		t.Fatalf("expected 2 signature errors, got %v", got)
	}
	failures := m.handlerFailures.WithLabelValues("invoice.payment_failed", WebhookFailureReasonProviderCall)
	if got := testutil.ToFloat64(failures); got != 1 {
		t.Fatalf("expected 1 handler failure, got %v", got)
	}
}
