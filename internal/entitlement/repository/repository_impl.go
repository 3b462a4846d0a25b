package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
	"gorm.io/gorm"
)

const entitlementColumns = `id, customer_id, feature_package_id, status, license_type, expires_at, provider_subscription_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert writes the absolute state of the (customer, package) row. On
// conflict the existing id and created_at are kept and every other column is
// replaced, so replaying the same write converges on the same row.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, ent *domain.Entitlement) (*domain.Entitlement, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (`+entitlementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id, feature_package_id) DO UPDATE SET
			status = EXCLUDED.status,
			license_type = EXCLUDED.license_type,
			expires_at = EXCLUDED.expires_at,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			updated_at = EXCLUDED.updated_at`,
		ent.ID,
		ent.CustomerID,
		ent.FeaturePackageID,
		ent.Status,
		ent.LicenseType,
		ent.ExpiresAt,
		ent.ProviderSubscriptionID,
		ent.CreatedAt,
		ent.UpdatedAt,
	).Error
	if err != nil {
		return nil, err
	}

	var stored domain.Entitlement
	if err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE customer_id = ? AND feature_package_id = ?`,
		ent.CustomerID,
		ent.FeaturePackageID,
	).Scan(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repo) BulkTransition(ctx context.Context, db *gorm.DB, customerID snowflake.ID, from, to domain.Status, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET status = ?, updated_at = ?
		 WHERE customer_id = ? AND status = ?`,
		to,
		now,
		customerID,
		from,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// TransitionPackages only touches rows that already exist.
func (r *repo) TransitionPackages(ctx context.Context, db *gorm.DB, customerID snowflake.ID, packageIDs []snowflake.ID, to domain.Status, now time.Time) (int64, error) {
	if len(packageIDs) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET status = ?, updated_at = ?
		 WHERE customer_id = ? AND feature_package_id IN ? AND status <> ?`,
		to,
		now,
		customerID,
		packageIDs,
		to,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE customer_id = ?
		 ORDER BY created_at ASC, id ASC`,
		customerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByCustomerAndPackages(ctx context.Context, db *gorm.DB, customerID snowflake.ID, packageIDs []snowflake.ID) ([]domain.Entitlement, error) {
	if len(packageIDs) == 0 {
		return nil, nil
	}
	var items []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE customer_id = ? AND feature_package_id IN ?
		 ORDER BY created_at ASC, id ASC`,
		customerID,
		packageIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
