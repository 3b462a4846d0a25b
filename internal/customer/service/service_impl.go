package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("customer.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetByOrganization(ctx context.Context, orgID string) (*domain.Customer, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || parsed == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	customer, err := s.repo.FindByOrganization(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) GetByProviderRef(ctx context.Context, providerRef string) (*domain.Customer, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, domain.ErrInvalidProviderRef
	}

	customer, err := s.repo.FindByProviderRef(ctx, s.db, providerRef)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}
