package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the only write path for entitlements. It has no delete.
type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, ent *Entitlement) (*Entitlement, error)
	BulkTransition(ctx context.Context, db *gorm.DB, customerID snowflake.ID, from, to Status, now time.Time) (int64, error)
	TransitionPackages(ctx context.Context, db *gorm.DB, customerID snowflake.ID, packageIDs []snowflake.ID, to Status, now time.Time) (int64, error)
	FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Entitlement, error)
	FindByCustomerAndPackages(ctx context.Context, db *gorm.DB, customerID snowflake.ID, packageIDs []snowflake.ID) ([]Entitlement, error)
}
