package domain

import (
	"context"
	"errors"
)

type Service interface {
	GetByOrganization(ctx context.Context, orgID string) (*Customer, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*Customer, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProviderRef  = errors.New("invalid_provider_customer_id")
	ErrNotFound            = errors.New("customer_not_found")
)
