package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	stripeparser "github.com/smallbiznis/gatekeeper/internal/billingwebhook/stripe"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obslogger "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Cfg            config.Config
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	Handler        domain.Handler
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	WebhookMetrics *obsmetrics.WebhookMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	parser         *stripeparser.Parser
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	handler        domain.Handler
	obsMetrics     *obsmetrics.Metrics
	webhookMetrics *obsmetrics.WebhookMetrics
}

// NewService fails when no webhook signing secret is configured.
func NewService(p Params) (domain.Service, error) {
	secret := strings.TrimSpace(p.Cfg.Stripe.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrSecretMissing
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("billingwebhook.service"),
		parser:         stripeparser.NewParser(secret),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		handler:        p.Handler,
		obsMetrics:     p.ObsMetrics,
		webhookMetrics: p.WebhookMetrics,
	}, nil
}

// Ingest verifies one delivery and runs at most one handler for it. A nil
// error means the delivery should be acknowledged; any returned error other
// than an authenticity failure asks the provider to retry.
func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) (*domain.IngestResult, error) {
	log := obslogger.WithContext(ctx, s.log)

	evt, err := s.parser.Parse(payload, signatureHeader)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		s.webhookMetrics.IncSignatureError()
		s.obsMetrics.RecordWebhookEvent(ctx, "unknown", string(domain.OutcomeRejected))
		log.Warn("webhook signature rejected", zap.Error(err))
		return nil, domain.ErrInvalidSignature
	case evt != nil && errors.Is(err, domain.ErrInvalidPayload):
		log.Warn("webhook event malformed, acknowledging without processing",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
		return s.result(ctx, evt, domain.OutcomeIgnored), nil
	case evt != nil && (errors.Is(err, billingprovider.ErrMetadataAbsent) || errors.Is(err, billingprovider.ErrInvalidMetadata)):
		log.Info("webhook event ignored",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.String("reason", err.Error()),
		)
		return s.result(ctx, evt, domain.OutcomeIgnored), nil
	default:
		return nil, err
	}

	if evt.Payload == nil {
		log.Debug("webhook event type not handled",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
		)
		return s.result(ctx, evt, domain.OutcomeIgnored), nil
	}

	now := s.clock.Now()
	receipt := domain.Receipt{
		ID:              s.genID.Generate(),
		Provider:        domain.ProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, &receipt)
	if err != nil {
		return nil, fmt.Errorf("record webhook receipt: %w", err)
	}
	stored := &receipt
	if !inserted {
		stored, err = s.repo.Find(ctx, s.db, domain.ProviderStripe, evt.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("webhook receipt for %s not found after conflict", evt.ID)
		}
		if stored.ProcessedAt != nil {
			log.Info("webhook event already processed",
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type),
			)
			return s.result(ctx, evt, domain.OutcomeDuplicate), nil
		}
	}

	outcome := domain.OutcomeProcessed
	start := time.Now()
	err = s.dispatch(ctx, evt)
	s.webhookMetrics.ObserveHandlerDuration(evt.Type, time.Since(start))
	if err != nil {
		if !errors.Is(err, domain.ErrEventSkipped) {
			s.webhookMetrics.IncHandlerFailure(evt.Type, err)
			s.obsMetrics.RecordWebhookEvent(ctx, evt.Type, string(domain.OutcomeFailed))
			log.Error("webhook handler failed",
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type),
				zap.Error(err),
			)
			return nil, err
		}
		log.Info("webhook event skipped",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.String("reason", err.Error()),
		)
		outcome = domain.OutcomeSkipped
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("mark webhook receipt processed: %w", err)
	}
	return s.result(ctx, evt, outcome), nil
}

func (s *Service) dispatch(ctx context.Context, evt *domain.Event) error {
	switch payload := evt.Payload.(type) {
	case domain.PurchaseCompleted:
		return s.handler.HandlePurchaseCompleted(ctx, payload)
	case domain.SubscriptionChanged:
		return s.handler.HandleSubscriptionChanged(ctx, payload)
	case domain.SubscriptionDeleted:
		return s.handler.HandleSubscriptionDeleted(ctx, payload)
	case domain.PaymentFailed:
		return s.handler.HandlePaymentFailed(ctx, payload)
	default:
		return fmt.Errorf("unsupported webhook payload %T", evt.Payload)
	}
}

func (s *Service) result(ctx context.Context, evt *domain.Event, outcome domain.Outcome) *domain.IngestResult {
	s.obsMetrics.RecordWebhookEvent(ctx, evt.Type, string(outcome))
	return &domain.IngestResult{
		EventID:   evt.ID,
		EventType: evt.Type,
		Outcome:   outcome,
	}
}
