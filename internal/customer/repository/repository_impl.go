package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/customer/domain"
	"gorm.io/gorm"
)

const customerColumns = `id, provider_customer_id, email, name, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.ProviderCustomerID,
		customer.Email,
		customer.Name,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*domain.Customer, error) {
	return r.findOne(ctx, db, `SELECT `+customerColumns+` FROM customers WHERE provider_customer_id = ?`, providerRef)
}

// FindByEmail returns the oldest identity for the email; emails are not unique.
func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Customer, error) {
	return r.findOne(ctx, db,
		`SELECT `+customerColumns+` FROM customers
		 WHERE LOWER(email) = LOWER(?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		email,
	)
}

// FindByOrganization returns the earliest linked identity of the tenant.
func (r *repo) FindByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db,
		`SELECT c.id, c.provider_customer_id, c.email, c.name, c.metadata, c.created_at, c.updated_at
		 FROM organization_customers oc
		 JOIN customers c ON c.id = oc.customer_id
		 WHERE oc.org_id = ?
		 ORDER BY oc.created_at ASC, c.id ASC
		 LIMIT 1`,
		orgID,
	)
}

// AttachProviderRef never overwrites an existing provider reference.
func (r *repo) AttachProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET provider_customer_id = ?, updated_at = ?
		 WHERE id = ? AND provider_customer_id IS NULL`,
		providerRef,
		now,
		id,
	).Error
}

func (r *repo) LinkOrganization(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organization_customers (org_id, customer_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (org_id, customer_id) DO NOTHING`,
		orgID,
		customerID,
		now,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*domain.Customer, error) {
	var customer domain.Customer
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&customer).Error; err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}
