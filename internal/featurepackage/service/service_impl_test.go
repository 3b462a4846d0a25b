package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/repository"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/service"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func baseCatalog() config.Catalog {
	return config.Catalog{Packages: []config.CatalogPackage{
		{Key: "core", Classification: config.ClassificationAlwaysIncluded, Capabilities: []string{"projects"}},
		{Key: "analytics", Name: "Analytics", Classification: config.ClassificationPremium, PriceID: "price_analytics", Capabilities: []string{"reports", "exports"}},
		{Key: "sso", Classification: config.ClassificationPremium, PriceID: "price_sso"},
		{Key: "everything", Classification: config.ClassificationPremium, Bundle: true, PriceID: "price_all"},
	}}
}

func TestSyncSeedsCatalogAndResolvesCapabilities(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	svc := newService(t, db)

	result, err := svc.Sync(ctx, baseCatalog())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Upserted)
	assert.Equal(t, int64(0), result.Deactivated)

	pkg, err := svc.ResolveCapability(ctx, "exports")
	require.NoError(t, err)
	assert.Equal(t, "analytics", pkg.PackageKey)
	assert.Equal(t, "price_analytics", pkg.PriceRef())

	self, err := svc.ResolveCapability(ctx, "sso")
	require.NoError(t, err)
	assert.Equal(t, "sso", self.PackageKey)

	_, err = svc.ResolveCapability(ctx, "teleport")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	bundles, err := svc.ListBundles(ctx)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "everything", bundles[0].PackageKey)
}

func TestSyncIsRepeatableAndRetiresRemovedPackages(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	svc := newService(t, db)

	_, err := svc.Sync(ctx, baseCatalog())
	require.NoError(t, err)
	before, err := svc.GetByKeys(ctx, []string{"analytics"})
	require.NoError(t, err)

	next := baseCatalog()
	next.Packages = next.Packages[:2]
	next.Packages[1].Capabilities = []string{"reports"}
	result, err := svc.Sync(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deactivated)

	after, err := svc.GetByKeys(ctx, []string{"analytics"})
	require.NoError(t, err)
	assert.Equal(t, before[0].ID, after[0].ID)

	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM feature_packages", 4)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM feature_packages WHERE active = TRUE", 2)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM feature_package_capabilities WHERE capability_key = ?", 0, "exports")

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "analytics", listed[0].Key)
	assert.True(t, listed[0].Purchasable)
	assert.Equal(t, []string{"reports"}, listed[0].Capabilities)
	assert.False(t, listed[1].Purchasable)
}

func TestGetByKeysRejectsUnknownKey(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	svc := newService(t, db)

	_, err := svc.Sync(ctx, baseCatalog())
	require.NoError(t, err)

	items, err := svc.GetByKeys(ctx, []string{"sso", "analytics", "sso"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "sso", items[0].PackageKey)

	_, err = svc.GetByKeys(ctx, []string{"sso", "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.GetByKeys(ctx, []string{" "})
	assert.True(t, errors.Is(err, domain.ErrInvalidKey))
}

func TestSyncCarriesOneTimeFlag(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	svc := newService(t, db)

	catalog := baseCatalog()
	catalog.Packages = append(catalog.Packages, config.CatalogPackage{
		Key: "lifetime", Classification: config.ClassificationPremium, OneTime: true, PriceID: "price_lifetime",
	})
	_, err := svc.Sync(ctx, catalog)
	require.NoError(t, err)

	pkgs, err := svc.GetByKeys(ctx, []string{"lifetime", "analytics"})
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.True(t, pkgs[0].OneTime)
	assert.False(t, pkgs[1].OneTime)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, item.Key == "lifetime", item.OneTime, item.Key)
	}
}
