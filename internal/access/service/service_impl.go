package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/access/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	customerdomain "github.com/smallbiznis/gatekeeper/internal/customer/domain"
	entdomain "github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
	packagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	obslogger "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Customers    customerdomain.Repository
	Catalog      packagedomain.Service
	Packages     packagedomain.Repository
	Entitlements entdomain.Repository
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

// Service answers capability checks from current stored state. It never
// writes and keeps no cache.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	customers    customerdomain.Repository
	catalog      packagedomain.Service
	packages     packagedomain.Repository
	entitlements entdomain.Repository
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("access.service"),
		clock:        p.Clock,
		customers:    p.Customers,
		catalog:      p.Catalog,
		packages:     p.Packages,
		entitlements: p.Entitlements,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Check(ctx context.Context, orgID, capability string) (*domain.Decision, error) {
	parsedOrg, err := parseOrg(orgID)
	if err != nil {
		return nil, err
	}
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return nil, domain.ErrInvalidCapability
	}

	decision, err := s.decide(ctx, parsedOrg, capability)
	if err != nil {
		return nil, err
	}
	decision.OrgID = parsedOrg.String()
	decision.Capability = capability
	if !decision.Entitled {
		decision.Message = domain.UpgradeAvailableText
	}

	s.obsMetrics.RecordAccessDecision(ctx, decision.Entitled, decision.Reason)
	obslogger.WithContext(ctx, s.log).Debug("access decided",
		zap.String("capability", capability),
		zap.Bool("entitled", decision.Entitled),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}

func (s *Service) decide(ctx context.Context, orgID snowflake.ID, capability string) (*domain.Decision, error) {
	pkg, err := s.catalog.ResolveCapability(ctx, capability)
	if errors.Is(err, packagedomain.ErrNotFound) {
		return &domain.Decision{Reason: domain.ReasonNotConfigured}, nil
	}
	if err != nil {
		return nil, err
	}
	if pkg.IsAlwaysIncluded() {
		return &domain.Decision{Entitled: true, Reason: domain.ReasonIncluded, PackageKey: pkg.PackageKey}, nil
	}

	bundles, err := s.catalog.ListBundles(ctx)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByOrganization(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return &domain.Decision{Reason: domain.ReasonNoBilling, PackageKey: pkg.PackageKey}, nil
	}

	bundleKeys := make(map[snowflake.ID]string, len(bundles))
	ids := []snowflake.ID{pkg.ID}
	for _, bundle := range bundles {
		if bundle.ID == pkg.ID {
			continue
		}
		bundleKeys[bundle.ID] = bundle.PackageKey
		ids = append(ids, bundle.ID)
	}

	rows, err := s.entitlements.FindByCustomerAndPackages(ctx, s.db, customer.ID, ids)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var direct *entdomain.Entitlement
	var bundleRows []*entdomain.Entitlement
	for i := range rows {
		row := &rows[i]
		if row.Status == entdomain.StatusActive && !row.ExpiredAt(now) {
			decision := &domain.Decision{
				Entitled:   true,
				Reason:     domain.ReasonActive,
				PackageKey: pkg.PackageKey,
				ExpiresAt:  row.ExpiresAt,
			}
			if key, ok := bundleKeys[row.FeaturePackageID]; ok {
				decision.ViaBundle = key
			}
			return decision, nil
		}
		if row.FeaturePackageID == pkg.ID {
			direct = row
		} else {
			bundleRows = append(bundleRows, row)
		}
	}

	reason := domain.ReasonNotPurchased
	switch {
	case direct != nil:
		reason = denialReason(direct)
	case len(bundleRows) > 0:
		reason = denialReason(bundleRows[0])
	}
	return &domain.Decision{Reason: reason, PackageKey: pkg.PackageKey}, nil
}

// denialReason explains a row that does not grant access. An ACTIVE row can
// only land here through lazy expiry.
func denialReason(row *entdomain.Entitlement) string {
	switch row.Status {
	case entdomain.StatusSuspended:
		return domain.ReasonSuspended
	case entdomain.StatusActive, entdomain.StatusExpired:
		return domain.ReasonExpired
	default:
		return domain.ReasonNotPurchased
	}
}

func (s *Service) List(ctx context.Context, orgID string) ([]domain.EntitlementView, error) {
	parsedOrg, err := parseOrg(orgID)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByOrganization(ctx, s.db, parsedOrg)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return []domain.EntitlementView{}, nil
	}

	rows, err := s.entitlements.FindByCustomer(ctx, s.db, customer.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.FeaturePackageID)
	}
	pkgs, err := s.packages.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	keys := make(map[snowflake.ID]string, len(pkgs))
	for _, pkg := range pkgs {
		keys[pkg.ID] = pkg.PackageKey
	}

	now := s.clock.Now()
	views := make([]domain.EntitlementView, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		effective := row.Status
		if row.Status == entdomain.StatusActive && row.ExpiredAt(now) {
			effective = entdomain.StatusExpired
		}
		views = append(views, domain.EntitlementView{
			PackageKey:      keys[row.FeaturePackageID],
			Status:          string(row.Status),
			EffectiveStatus: string(effective),
			LicenseType:     string(row.LicenseType),
			ExpiresAt:       row.ExpiresAt,
			UpdatedAt:       row.UpdatedAt,
		})
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].PackageKey < views[j].PackageKey })
	return views, nil
}

func parseOrg(raw string) (snowflake.ID, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || orgID <= 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}
