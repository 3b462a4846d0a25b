package domain

import (
	"context"
	"errors"
)

type Service interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
	CreatePortalSession(ctx context.Context, orgID, returnURL string) (*PortalLink, error)
	RemovePackage(ctx context.Context, orgID, packageKey string) (*RemovalResult, error)
}

type CheckoutRequest struct {
	OrgID       string   `json:"-"`
	PackageKeys []string `json:"package_keys"`
	Email       string   `json:"email"`
}

type CheckoutLink struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalLink struct {
	URL string `json:"url"`
}

// RemovalAction names what happened at the provider when a package was removed.
type RemovalAction string

const (
	ActionItemRemoved          RemovalAction = "item_removed"
	ActionSubscriptionCanceled RemovalAction = "subscription_canceled"
	ActionLocalOnly            RemovalAction = "local_only"
)

type RemovalResult struct {
	PackageKey     string        `json:"package_key"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Action         RemovalAction `json:"action"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrOrganizationMissing = errors.New("organization_not_found")
	ErrEmptyPackageKeys    = errors.New("empty_package_keys")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrMixedBillingModes   = errors.New("mixed_billing_modes")
	ErrNoBillingIdentity   = errors.New("no_billing_identity")
	ErrNotEntitled         = errors.New("package_not_entitled")
	ErrItemNotFound        = errors.New("subscription_item_not_found")
)
