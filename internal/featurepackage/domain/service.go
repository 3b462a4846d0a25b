package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/gatekeeper/internal/config"
)

type Service interface {
	List(ctx context.Context) ([]Response, error)
	GetByKeys(ctx context.Context, keys []string) ([]FeaturePackage, error)
	ResolveCapability(ctx context.Context, capability string) (*FeaturePackage, error)
	ListBundles(ctx context.Context) ([]FeaturePackage, error)
	Sync(ctx context.Context, catalog config.Catalog) (*SyncResult, error)
}

type Response struct {
	Key            string         `json:"key"`
	Name           string         `json:"name"`
	Classification Classification `json:"classification"`
	Bundle         bool           `json:"bundle"`
	OneTime        bool           `json:"one_time"`
	Purchasable    bool           `json:"purchasable"`
	Capabilities   []string       `json:"capabilities,omitempty"`
}

type SyncResult struct {
	Upserted    int
	Deactivated int64
}

var (
	ErrInvalidKey        = errors.New("invalid_package_key")
	ErrInvalidCapability = errors.New("invalid_capability")
	ErrNotFound          = errors.New("feature_package_not_found")
	ErrInactive          = errors.New("feature_package_inactive")
	ErrNotPurchasable    = errors.New("feature_package_not_purchasable")
)
