// Package testutil holds the sqlite schema shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE organizations (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_organizations_slug ON organizations(slug)`,
	`CREATE TABLE organization_members (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_organization_members_org_user ON organization_members(org_id, user_id)`,
	`CREATE TABLE customers (
		id BIGINT PRIMARY KEY,
		provider_customer_id TEXT,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_customers_provider_customer_id ON customers(provider_customer_id)`,
	`CREATE TABLE organization_customers (
		org_id BIGINT NOT NULL,
		customer_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_organization_customers_org_customer ON organization_customers(org_id, customer_id)`,
	`CREATE TABLE feature_packages (
		id BIGINT PRIMARY KEY,
		package_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL,
		is_bundle BOOLEAN NOT NULL DEFAULT FALSE,
		one_time BOOLEAN NOT NULL DEFAULT FALSE,
		provider_price_id TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_feature_packages_key ON feature_packages(package_key)`,
	`CREATE TABLE feature_package_capabilities (
		capability_key TEXT PRIMARY KEY,
		feature_package_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE entitlements (
		id BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		feature_package_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		license_type TEXT NOT NULL,
		expires_at DATETIME,
		provider_subscription_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_entitlements_customer_package ON entitlements(customer_id, feature_package_id)`,
	`CREATE TABLE billing_webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_billing_webhook_events_provider_event ON billing_webhook_events(provider, provider_event_id)`,
}

// OpenDB returns an isolated in-memory database with the full schema applied.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...interface{}) {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d rows for %q, got %d", expected, query, count)
	}
}
