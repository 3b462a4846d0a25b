package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"gorm.io/gorm"
)

const (
	WebhookFailureReasonDeadlineExceeded     = "deadline_exceeded"
	WebhookFailureReasonProviderCall         = "provider_call"
	WebhookFailureReasonDBLockTimeout        = "db_lock_timeout"
	WebhookFailureReasonSerializationFailure = "serialization_failure"
	WebhookFailureReasonUniqueViolation      = "unique_violation"
	WebhookFailureReasonDB                   = "db"
	WebhookFailureReasonUnknown              = "unknown"
)

// WebhookMetrics captures provider webhook handling health for alerting.
type WebhookMetrics struct {
	handlerDuration *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	signatureErrors prometheus.Counter
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

// Webhook returns the process-wide webhook metrics registered on the default registry.
func Webhook(cfg Config) *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = NewWebhookMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return webhookMetrics
}

func NewWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "gatekeeper"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gatekeeper_webhook_handler_duration_seconds",
		Help:        "Provider webhook handler latency by event type.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"event_type"})
	handlerFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gatekeeper_webhook_handler_failures_total",
		Help:        "Provider webhook handler failures that will be retried by the provider.",
		ConstLabels: constLabels,
	}, []string{"event_type", "reason"})
	signatureErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "gatekeeper_webhook_signature_errors_total",
		Help:        "Rejected provider webhooks with a missing or invalid signature.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(handlerDuration, handlerFailures, signatureErrors)

	return &WebhookMetrics{
		handlerDuration: handlerDuration,
		handlerFailures: handlerFailures,
		signatureErrors: signatureErrors,
	}
}

func (m *WebhookMetrics) ObserveHandlerDuration(eventType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *WebhookMetrics) IncHandlerFailure(eventType string, err error) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType, ClassifyWebhookFailure(err)).Inc()
}

func (m *WebhookMetrics) IncSignatureError() {
	if m == nil {
		return
	}
	m.signatureErrors.Inc()
}

// ClassifyWebhookFailure maps handler errors to low-cardinality reasons.
func ClassifyWebhookFailure(err error) string {
	switch {
	case err == nil:
		return WebhookFailureReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return WebhookFailureReasonDeadlineExceeded
	case errors.Is(err, billingprovider.ErrProviderCall):
		return WebhookFailureReasonProviderCall
	case hasPGCode(err, "55P03"):
		return WebhookFailureReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return WebhookFailureReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return WebhookFailureReasonUniqueViolation
	case isDBError(err):
		return WebhookFailureReasonDB
	default:
		return WebhookFailureReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
