package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*Customer, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Customer, error)
	FindByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Customer, error)
	AttachProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, now time.Time) error
	LinkOrganization(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, now time.Time) error
}
