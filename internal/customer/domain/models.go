package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Customer is a billing identity: one account at the billing provider.
type Customer struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProviderCustomerID *string           `gorm:"column:provider_customer_id;uniqueIndex" json:"provider_customer_id,omitempty"`
	Email              string            `gorm:"column:email" json:"email"`
	Name               string            `gorm:"column:name" json:"name"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) ProviderRef() string {
	if c == nil || c.ProviderCustomerID == nil {
		return ""
	}
	return *c.ProviderCustomerID
}

// OrganizationCustomer links a tenant to the billing identity paying for it.
type OrganizationCustomer struct {
	OrgID      snowflake.ID `gorm:"column:org_id;primaryKey"`
	CustomerID snowflake.ID `gorm:"column:customer_id;primaryKey"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrganizationCustomer) TableName() string { return "organization_customers" }
