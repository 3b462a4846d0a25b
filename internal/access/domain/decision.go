package domain

import (
	"context"
	"errors"
	"time"
)

const (
	ReasonIncluded       = "included"
	ReasonActive         = "active"
	ReasonNotConfigured  = "not configured"
	ReasonNoBilling      = "no billing relationship"
	ReasonNotPurchased   = "not purchased"
	ReasonSuspended      = "suspended"
	ReasonExpired        = "expired"
	UpgradeAvailableText = "feature not enabled, upgrade available"
)

// Decision is the answer to "may this organization use this capability".
// Denials always carry UpgradeAvailableText for display.
type Decision struct {
	OrgID      string     `json:"org_id"`
	Capability string     `json:"capability"`
	Entitled   bool       `json:"entitled"`
	Reason     string     `json:"reason"`
	Message    string     `json:"message,omitempty"`
	PackageKey string     `json:"package_key,omitempty"`
	ViaBundle  string     `json:"via_bundle,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// EntitlementView is one stored grant as seen at read time. EffectiveStatus
// applies lazy expiry to the stored status.
type EntitlementView struct {
	PackageKey      string     `json:"package_key"`
	Status          string     `json:"status"`
	EffectiveStatus string     `json:"effective_status"`
	LicenseType     string     `json:"license_type"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Service interface {
	Check(ctx context.Context, orgID, capability string) (*Decision, error)
	List(ctx context.Context, orgID string) ([]EntitlementView, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCapability   = errors.New("invalid_capability")
)
