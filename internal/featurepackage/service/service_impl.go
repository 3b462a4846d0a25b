package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("featurepackage.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Response, error) {
	items, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	capabilities, err := s.repo.ListCapabilities(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byPackage := make(map[snowflake.ID][]string, len(items))
	for _, c := range capabilities {
		byPackage[c.FeaturePackageID] = append(byPackage[c.FeaturePackageID], c.CapabilityKey)
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		item := &items[i]
		resp = append(resp, domain.Response{
			Key:            item.PackageKey,
			Name:           item.Name,
			Classification: item.Classification,
			Bundle:         item.IsBundle,
			OneTime:        item.OneTime,
			Purchasable:    item.IsPremium() && item.PriceRef() != "",
			Capabilities:   byPackage[item.ID],
		})
	}
	return resp, nil
}

// GetByKeys returns the packages in the order requested. Duplicate keys are
// collapsed and any unknown key fails the whole lookup.
func (s *Service) GetByKeys(ctx context.Context, keys []string) ([]domain.FeaturePackage, error) {
	normalized := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, domain.ErrInvalidKey
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	if len(normalized) == 0 {
		return nil, domain.ErrInvalidKey
	}

	items, err := s.repo.FindByKeys(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]domain.FeaturePackage, len(items))
	for _, item := range items {
		byKey[item.PackageKey] = item
	}

	out := make([]domain.FeaturePackage, 0, len(normalized))
	for _, key := range normalized {
		item, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) ResolveCapability(ctx context.Context, capability string) (*domain.FeaturePackage, error) {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return nil, domain.ErrInvalidCapability
	}
	pkg, err := s.repo.FindByCapability(ctx, s.db, capability)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, domain.ErrNotFound
	}
	return pkg, nil
}

func (s *Service) ListBundles(ctx context.Context) ([]domain.FeaturePackage, error) {
	return s.repo.ListBundles(ctx, s.db)
}

// Sync makes the stored catalog match the given one. Packages missing from
// the catalog are deactivated, never deleted.
func (s *Service) Sync(ctx context.Context, catalog config.Catalog) (*domain.SyncResult, error) {
	if err := config.ValidateCatalog(catalog); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &domain.SyncResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := make([]string, 0, len(catalog.Packages))
		for _, entry := range catalog.Packages {
			key := strings.TrimSpace(entry.Key)
			pkg := &domain.FeaturePackage{
				ID:             s.genID.Generate(),
				PackageKey:     key,
				Name:           strings.TrimSpace(entry.Name),
				Classification: domain.Classification(strings.TrimSpace(entry.Classification)),
				IsBundle:       entry.Bundle,
				OneTime:        entry.OneTime,
				Active:         entry.IsActive(),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if pkg.Name == "" {
				pkg.Name = key
			}
			if priceID := strings.TrimSpace(entry.PriceID); priceID != "" {
				pkg.ProviderPriceID = &priceID
			}

			if err := s.repo.Upsert(ctx, tx, pkg); err != nil {
				return fmt.Errorf("upsert package %s: %w", key, err)
			}
			if err := s.repo.ReplaceCapabilities(ctx, tx, pkg.ID, trimAll(entry.Capabilities), now); err != nil {
				return fmt.Errorf("replace capabilities for %s: %w", key, err)
			}
			keys = append(keys, key)
			result.Upserted++
		}

		deactivated, err := s.repo.DeactivateExcept(ctx, tx, keys, now)
		if err != nil {
			return err
		}
		result.Deactivated = deactivated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("feature catalog synced",
		zap.Int("upserted", result.Upserted),
		zap.Int64("deactivated", result.Deactivated),
	)
	return result, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
