package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	"gorm.io/gorm"
)

const packageColumns = `id, package_key, name, classification, is_bundle, one_time, provider_price_id, active, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert writes the package by key and loads the persisted id back into pkg.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, pkg *domain.FeaturePackage) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO feature_packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (package_key) DO UPDATE SET
			name = EXCLUDED.name,
			classification = EXCLUDED.classification,
			is_bundle = EXCLUDED.is_bundle,
			one_time = EXCLUDED.one_time,
			provider_price_id = EXCLUDED.provider_price_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		pkg.ID,
		pkg.PackageKey,
		pkg.Name,
		pkg.Classification,
		pkg.IsBundle,
		pkg.OneTime,
		pkg.ProviderPriceID,
		pkg.Active,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	).Error
	if err != nil {
		return err
	}

	stored, err := r.FindByKey(ctx, db, pkg.PackageKey)
	if err != nil {
		return err
	}
	if stored != nil {
		pkg.ID = stored.ID
		pkg.CreatedAt = stored.CreatedAt
	}
	return nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.FeaturePackage, error) {
	return r.findOne(ctx, db, `SELECT `+packageColumns+` FROM feature_packages WHERE package_key = ?`, key)
}

func (r *repo) FindByKeys(ctx context.Context, db *gorm.DB, keys []string) ([]domain.FeaturePackage, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var items []domain.FeaturePackage
	err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM feature_packages
		 WHERE package_key IN ?
		 ORDER BY package_key ASC`,
		keys,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.FeaturePackage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.FeaturePackage
	err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM feature_packages
		 WHERE id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FindByCapability prefers an explicit capability mapping and falls back to a
// package whose own key equals the capability. Retired packages still resolve
// so existing holders keep access.
func (r *repo) FindByCapability(ctx context.Context, db *gorm.DB, capability string) (*domain.FeaturePackage, error) {
	pkg, err := r.findOne(ctx, db,
		`SELECT fp.id, fp.package_key, fp.name, fp.classification, fp.is_bundle, fp.provider_price_id, fp.active, fp.created_at, fp.updated_at
		 FROM feature_package_capabilities c
		 JOIN feature_packages fp ON fp.id = c.feature_package_id
		 WHERE c.capability_key = ?`,
		capability,
	)
	if err != nil || pkg != nil {
		return pkg, err
	}
	return r.FindByKey(ctx, db, capability)
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.FeaturePackage, error) {
	var items []domain.FeaturePackage
	err := db.WithContext(ctx).Raw(
		`SELECT ` + packageColumns + ` FROM feature_packages
		 WHERE active = TRUE
		 ORDER BY package_key ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBundles(ctx context.Context, db *gorm.DB) ([]domain.FeaturePackage, error) {
	var items []domain.FeaturePackage
	err := db.WithContext(ctx).Raw(
		`SELECT ` + packageColumns + ` FROM feature_packages
		 WHERE is_bundle = TRUE AND active = TRUE
		 ORDER BY package_key ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCapabilities(ctx context.Context, db *gorm.DB, packageIDs []snowflake.ID) ([]domain.Capability, error) {
	if len(packageIDs) == 0 {
		return nil, nil
	}
	var items []domain.Capability
	err := db.WithContext(ctx).Raw(
		`SELECT capability_key, feature_package_id, created_at
		 FROM feature_package_capabilities
		 WHERE feature_package_id IN ?
		 ORDER BY capability_key ASC`,
		packageIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReplaceCapabilities makes capabilities the exact mapping set of the package.
// A capability previously owned by another package moves to this one.
func (r *repo) ReplaceCapabilities(ctx context.Context, db *gorm.DB, packageID snowflake.ID, capabilities []string, now time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM feature_package_capabilities WHERE feature_package_id = ?`,
		packageID,
	).Error; err != nil {
		return err
	}

	for _, capability := range capabilities {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO feature_package_capabilities (capability_key, feature_package_id, created_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (capability_key) DO UPDATE SET feature_package_id = EXCLUDED.feature_package_id`,
			capability,
			packageID,
			now,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) DeactivateExcept(ctx context.Context, db *gorm.DB, keys []string, now time.Time) (int64, error) {
	query := db.WithContext(ctx)
	var result *gorm.DB
	if len(keys) == 0 {
		result = query.Exec(
			`UPDATE feature_packages SET active = FALSE, updated_at = ? WHERE active = TRUE`,
			now,
		)
	} else {
		result = query.Exec(
			`UPDATE feature_packages SET active = FALSE, updated_at = ?
			 WHERE active = TRUE AND package_key NOT IN ?`,
			now,
			keys,
		)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*domain.FeaturePackage, error) {
	var pkg domain.FeaturePackage
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&pkg).Error; err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}
