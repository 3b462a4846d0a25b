package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Receipt records one accepted delivery so redeliveries of processed events
// can be acknowledged without running handlers again.
type Receipt struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:text;not null"`
	EventType       string         `gorm:"column:event_type;type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

func (Receipt) TableName() string { return "billing_webhook_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) (bool, error)
	Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*Receipt, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

type IngestResult struct {
	EventID   string
	EventType string
	Outcome   Outcome
}

type Service interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrSecretMissing    = errors.New("webhook_secret_not_configured")
	// ErrEventSkipped is returned by handlers when an authentic event
	// references state this service cannot resolve. It is acknowledged.
	ErrEventSkipped = errors.New("event_skipped")
)
