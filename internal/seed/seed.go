package seed

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/config"
	packagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"

	reloadSyncTimeout = 30 * time.Second
)

var Module = fx.Module("seed",
	fx.Invoke(RegisterCatalogSync),
	fx.Invoke(RegisterMainOrg),
)

// RegisterCatalogSync mirrors catalog.yml into feature_packages on start and
// after every accepted hot reload.
func RegisterCatalogSync(lc fx.Lifecycle, holder *config.CatalogHolder, packages packagedomain.Service, log *zap.Logger) {
	log = log.Named("seed.catalog")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := SyncCatalog(ctx, packages, holder.Get(), log); err != nil {
				return err
			}
			holder.OnReload(func(catalog config.Catalog) {
				ctx, cancel := context.WithTimeout(context.Background(), reloadSyncTimeout)
				defer cancel()
				if err := SyncCatalog(ctx, packages, catalog, log); err != nil {
					log.Error("catalog sync after reload failed", zap.Error(err))
				}
			})
			return nil
		},
	})
}

func SyncCatalog(ctx context.Context, packages packagedomain.Service, catalog config.Catalog, log *zap.Logger) error {
	result, err := packages.Sync(ctx, catalog)
	if err != nil {
		return err
	}
	log.Info("catalog synced",
		zap.Int("upserted", result.Upserted),
		zap.Int64("deactivated", result.Deactivated),
	)
	return nil
}

// RegisterMainOrg bootstraps a default organization for local setups when
// BOOTSTRAP_OWNER_USER_ID is set.
func RegisterMainOrg(lc fx.Lifecycle, cfg config.Config, repo organizationdomain.Repository, orgs organizationdomain.Service, log *zap.Logger) {
	if cfg.BootstrapOwnerUserID <= 0 {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureMainOrg(ctx, repo, orgs, snowflake.ID(cfg.BootstrapOwnerUserID), log.Named("seed.org"))
		},
	})
}

func EnsureMainOrg(ctx context.Context, repo organizationdomain.Repository, orgs organizationdomain.Service, ownerID snowflake.ID, log *zap.Logger) error {
	exists, err := repo.SlugExists(ctx, defaultOrgSlug)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	org, err := orgs.Create(ctx, ownerID, organizationdomain.CreateOrganizationRequest{Name: defaultOrgName})
	if err != nil {
		return err
	}
	log.Info("default organization created", zap.String("org_id", org.ID), zap.String("owner_user_id", ownerID.String()))
	return nil
}
