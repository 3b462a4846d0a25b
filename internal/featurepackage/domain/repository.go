package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, pkg *FeaturePackage) error
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*FeaturePackage, error)
	FindByKeys(ctx context.Context, db *gorm.DB, keys []string) ([]FeaturePackage, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]FeaturePackage, error)
	FindByCapability(ctx context.Context, db *gorm.DB, capability string) (*FeaturePackage, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]FeaturePackage, error)
	ListBundles(ctx context.Context, db *gorm.DB) ([]FeaturePackage, error)
	ListCapabilities(ctx context.Context, db *gorm.DB, packageIDs []snowflake.ID) ([]Capability, error)
	ReplaceCapabilities(ctx context.Context, db *gorm.DB, packageID snowflake.ID, capabilities []string, now time.Time) error
	DeactivateExcept(ctx context.Context, db *gorm.DB, keys []string, now time.Time) (int64, error)
}
