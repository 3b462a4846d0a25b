package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusExpired   Status = "EXPIRED"
)

type LicenseType string

const (
	LicenseSubscription LicenseType = "subscription"
	LicensePerpetual    LicenseType = "perpetual"
)

// Entitlement grants one billing identity one feature package. There is at
// most one row per (customer, package) and rows are never deleted.
type Entitlement struct {
	ID                     snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID             snowflake.ID `gorm:"column:customer_id;not null;uniqueIndex:ux_entitlements_customer_package,priority:1" json:"customer_id"`
	FeaturePackageID       snowflake.ID `gorm:"column:feature_package_id;not null;uniqueIndex:ux_entitlements_customer_package,priority:2" json:"feature_package_id"`
	Status                 Status       `gorm:"type:text;not null" json:"status"`
	LicenseType            LicenseType  `gorm:"column:license_type;type:text;not null" json:"license_type"`
	ExpiresAt              *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	ProviderSubscriptionID *string      `gorm:"column:provider_subscription_id;type:text" json:"provider_subscription_id,omitempty"`
	CreatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

// ExpiredAt reports whether the row has a fixed expiry that lies before now.
// Perpetual rows never expire.
func (e *Entitlement) ExpiredAt(now time.Time) bool {
	return e != nil && e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

func (e *Entitlement) SubscriptionRef() string {
	if e == nil || e.ProviderSubscriptionID == nil {
		return ""
	}
	return *e.ProviderSubscriptionID
}
