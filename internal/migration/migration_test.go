package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("sub fs: %v", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		t.Fatalf("iofs source: %v", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	for {
		if _, _, err := source.ReadUp(version); err != nil {
			t.Fatalf("missing up migration for %d: %v", version, err)
		}
		if _, _, err := source.ReadDown(version); err != nil {
			t.Fatalf("missing down migration for %d: %v", version, err)
		}
		next, err := source.Next(version)
		if err != nil {
			break
		}
		version = next
	}
}

func TestInitialSchemaDeclaresUpsertKeys(t *testing.T) {
	raw, err := embeddedMigrations.ReadFile("migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	for _, index := range []string{
		"ux_entitlements_customer_package",
		"ux_billing_webhook_events_provider_event",
		"ux_feature_packages_key",
		"ux_customers_provider_customer_id",
	} {
		if !strings.Contains(sql, index) {
			t.Fatalf("expected unique index %s", index)
		}
	}
}
