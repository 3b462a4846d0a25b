package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertKeepsOneRowPerCustomerAndPackage(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := Provide()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := "sub_123"

	first, err := repo.Upsert(ctx, db, &domain.Entitlement{
		ID: 1, CustomerID: 10, FeaturePackageID: 100,
		Status: domain.StatusActive, LicenseType: domain.LicenseSubscription,
		ExpiresAt: &expires, ProviderSubscriptionID: &sub,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	second, err := repo.Upsert(ctx, db, &domain.Entitlement{
		ID: 2, CustomerID: 10, FeaturePackageID: 100,
		Status: domain.StatusSuspended, LicenseType: domain.LicenseSubscription,
		ExpiresAt: &expires, ProviderSubscriptionID: &sub,
		CreatedAt: later, UpdatedAt: later,
	})
	require.NoError(t, err)

	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM entitlements", 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, snowflake.ID(1), second.ID)
	assert.Equal(t, domain.StatusSuspended, second.Status)
	require.NotNil(t, second.ExpiresAt)
	assert.True(t, second.ExpiresAt.Equal(expires))
	assert.Equal(t, "sub_123", second.SubscriptionRef())
}

func TestBulkTransitionOnlyMovesMatchingStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []domain.Entitlement{
		{ID: 1, CustomerID: 10, FeaturePackageID: 100, Status: domain.StatusActive},
		{ID: 2, CustomerID: 10, FeaturePackageID: 101, Status: domain.StatusActive},
		{ID: 3, CustomerID: 10, FeaturePackageID: 102, Status: domain.StatusExpired},
		{ID: 4, CustomerID: 11, FeaturePackageID: 100, Status: domain.StatusActive},
	}
	for i := range seed {
		seed[i].LicenseType = domain.LicensePerpetual
		seed[i].CreatedAt = now
		seed[i].UpdatedAt = now
		_, err := repo.Upsert(ctx, db, &seed[i])
		require.NoError(t, err)
	}

	count, err := repo.BulkTransition(ctx, db, 10, domain.StatusActive, domain.StatusSuspended, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM entitlements WHERE status = ?", 2, domain.StatusSuspended)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM entitlements WHERE customer_id = ? AND status = ?", 1, 11, domain.StatusActive)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM entitlements WHERE id = ? AND status = ?", 1, 3, domain.StatusExpired)
}

func TestTransitionPackagesNeverCreatesRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	count, err := repo.TransitionPackages(ctx, db, 10, []snowflake.ID{100}, domain.StatusExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM entitlements", 0)

	_, err = repo.Upsert(ctx, db, &domain.Entitlement{
		ID: 1, CustomerID: 10, FeaturePackageID: 100,
		Status: domain.StatusActive, LicenseType: domain.LicenseSubscription,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	count, err = repo.TransitionPackages(ctx, db, 10, []snowflake.ID{100, 200}, domain.StatusExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rows, err := repo.FindByCustomerAndPackages(ctx, db, 10, []snowflake.ID{100, 200})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusExpired, rows[0].Status)
}

func TestExpiredAtTreatsPerpetualAsNeverExpiring(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&domain.Entitlement{}).ExpiredAt(now))
	assert.True(t, (&domain.Entitlement{ExpiresAt: &past}).ExpiredAt(now))
	assert.False(t, (&domain.Entitlement{ExpiresAt: &future}).ExpiredAt(now))
}
