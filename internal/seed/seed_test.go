package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	packagerepo "github.com/smallbiznis/gatekeeper/internal/featurepackage/repository"
	packageservice "github.com/smallbiznis/gatekeeper/internal/featurepackage/service"
	organizationrepo "github.com/smallbiznis/gatekeeper/internal/organization/repository"
	organizationservice "github.com/smallbiznis/gatekeeper/internal/organization/service"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"go.uber.org/zap"
)

func TestSyncCatalogSeedsPackages(t *testing.T) {
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	packages := packageservice.New(packageservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  packagerepo.Provide(),
	})

	catalog := config.Catalog{Packages: []config.CatalogPackage{
		{Key: "core", Classification: config.ClassificationAlwaysIncluded, Capabilities: []string{"projects"}},
		{Key: "sso", Classification: config.ClassificationPremium, PriceID: "price_sso"},
	}}
	if err := SyncCatalog(context.Background(), packages, catalog, zap.NewNop()); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}
	if err := SyncCatalog(context.Background(), packages, catalog, zap.NewNop()); err != nil {
		t.Fatalf("resync catalog: %v", err)
	}

	testutil.AssertCount(t, db, `SELECT COUNT(1) FROM feature_packages WHERE active = TRUE`, 2)
	testutil.AssertCount(t, db, `SELECT COUNT(1) FROM feature_package_capabilities`, 1)
}

func TestEnsureMainOrgIsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	repo := organizationrepo.NewRepository(db)
	orgs := organizationservice.NewService(db, zap.NewNop(), repo, node)

	for i := 0; i < 2; i++ {
		if err := EnsureMainOrg(context.Background(), repo, orgs, 42, zap.NewNop()); err != nil {
			t.Fatalf("ensure main org: %v", err)
		}
	}

	testutil.AssertCount(t, db, `SELECT COUNT(1) FROM organizations WHERE slug = 'main'`, 1)
	testutil.AssertCount(t, db, `SELECT COUNT(1) FROM organization_members WHERE user_id = 42 AND role = 'OWNER'`, 1)
}
