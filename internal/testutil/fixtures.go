package testutil

import (
	"testing"
	"time"

	"gorm.io/gorm"
)

// FixtureTime stamps every seeded row.
var FixtureTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mustExec(t *testing.T, db *gorm.DB, query string, args ...interface{}) {
	t.Helper()
	if err := db.Exec(query, args...).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func SeedOrganization(t *testing.T, db *gorm.DB, id int64, slug string) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO organizations (id, name, slug, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, slug, slug, FixtureTime, FixtureTime,
	)
}

func SeedMember(t *testing.T, db *gorm.DB, id, orgID, userID int64, role string) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO organization_members (id, org_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, orgID, userID, role, FixtureTime,
	)
}

// SeedPackage inserts an active package. An empty priceID stores NULL.
func SeedPackage(t *testing.T, db *gorm.DB, id int64, key, classification string, bundle bool, priceID string) {
	t.Helper()
	var price interface{}
	if priceID != "" {
		price = priceID
	}
	mustExec(t, db,
		`INSERT INTO feature_packages (id, package_key, name, classification, is_bundle, provider_price_id, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?)`,
		id, key, key, classification, bundle, price, FixtureTime, FixtureTime,
	)
}

func SeedCapability(t *testing.T, db *gorm.DB, capability string, packageID int64) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO feature_package_capabilities (capability_key, feature_package_id, created_at) VALUES (?, ?, ?)`,
		capability, packageID, FixtureTime,
	)
}

// SeedCustomer inserts a billing identity. An empty providerRef stores NULL.
func SeedCustomer(t *testing.T, db *gorm.DB, id int64, providerRef, email string) {
	t.Helper()
	var ref interface{}
	if providerRef != "" {
		ref = providerRef
	}
	mustExec(t, db,
		`INSERT INTO customers (id, provider_customer_id, email, name, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
		id, ref, email, FixtureTime, FixtureTime,
	)
}

func LinkCustomer(t *testing.T, db *gorm.DB, orgID, customerID int64) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO organization_customers (org_id, customer_id, created_at) VALUES (?, ?, ?)`,
		orgID, customerID, FixtureTime,
	)
}

// SeedEntitlement inserts a subscription row, or a perpetual one when
// expiresAt is nil.
func SeedEntitlement(t *testing.T, db *gorm.DB, id, customerID, packageID int64, status string, expiresAt *time.Time) {
	t.Helper()
	license := "subscription"
	if expiresAt == nil {
		license = "perpetual"
	}
	mustExec(t, db,
		`INSERT INTO entitlements (id, customer_id, feature_package_id, status, license_type, expires_at, provider_subscription_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		id, customerID, packageID, status, license, expiresAt, FixtureTime, FixtureTime,
	)
}

// EntitlementStatus returns the stored status, or "" when no row exists.
func EntitlementStatus(t *testing.T, db *gorm.DB, customerID, packageID int64) string {
	t.Helper()
	var status string
	if err := db.Raw(
		`SELECT status FROM entitlements WHERE customer_id = ? AND feature_package_id = ?`,
		customerID, packageID,
	).Scan(&status).Error; err != nil {
		t.Fatalf("load entitlement status: %v", err)
	}
	return status
}
