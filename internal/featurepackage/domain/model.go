package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Classification string

const (
	ClassificationAlwaysIncluded Classification = "always_included"
	ClassificationPremium        Classification = "premium"
)

// FeaturePackage is one purchasable catalog entry. Rows are retired by
// clearing Active, never deleted. OneTime packages are sold against a
// non-recurring price and grant perpetual licenses.
type FeaturePackage struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	PackageKey      string         `gorm:"column:package_key;type:text;not null;uniqueIndex:ux_feature_packages_key"`
	Name            string         `gorm:"type:text;not null"`
	Classification  Classification `gorm:"type:text;not null"`
	IsBundle        bool           `gorm:"column:is_bundle;not null;default:false"`
	OneTime         bool           `gorm:"column:one_time;not null;default:false"`
	ProviderPriceID *string        `gorm:"column:provider_price_id;type:text"`
	Active          bool           `gorm:"not null;default:true"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (FeaturePackage) TableName() string { return "feature_packages" }

func (p *FeaturePackage) IsAlwaysIncluded() bool {
	return p != nil && p.Classification == ClassificationAlwaysIncluded
}

func (p *FeaturePackage) IsPremium() bool {
	return p != nil && p.Classification == ClassificationPremium
}

func (p *FeaturePackage) PriceRef() string {
	if p == nil || p.ProviderPriceID == nil {
		return ""
	}
	return *p.ProviderPriceID
}

// Capability maps a capability key to the package that grants it.
type Capability struct {
	CapabilityKey    string       `gorm:"column:capability_key;primaryKey"`
	FeaturePackageID snowflake.ID `gorm:"column:feature_package_id;not null;index"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Capability) TableName() string { return "feature_package_capabilities" }
