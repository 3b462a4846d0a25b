package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/checkout/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	customerdomain "github.com/smallbiznis/gatekeeper/internal/customer/domain"
	entdomain "github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
	packagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	obslogger "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	Clock         clock.Clock
	Provider      billingprovider.Provider
	Organizations organizationdomain.Repository
	Customers     customerdomain.Repository
	Packages      packagedomain.Service
	PackageRepo   packagedomain.Repository
	Entitlements  entdomain.Repository
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.StripeConfig
	clock        clock.Clock
	provider     billingprovider.Provider
	orgs         organizationdomain.Repository
	customers    customerdomain.Repository
	packages     packagedomain.Service
	packageRepo  packagedomain.Repository
	entitlements entdomain.Repository
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("checkout.service"),
		cfg:          p.Cfg.Stripe,
		clock:        p.Clock,
		provider:     p.Provider,
		orgs:         p.Organizations,
		customers:    p.Customers,
		packages:     p.Packages,
		packageRepo:  p.PackageRepo,
		entitlements: p.Entitlements,
		obsMetrics:   p.ObsMetrics,
	}
}

// CreateCheckoutSession opens a hosted checkout for premium packages. The
// purchase metadata rides on both the session and its subscription so every
// later event can be routed without a local lookup.
func (s *Service) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutLink, error) {
	orgID, err := s.requireOrganization(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	if len(req.PackageKeys) == 0 {
		return nil, domain.ErrEmptyPackageKeys
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, domain.ErrInvalidEmail
		}
	}

	pkgs, err := s.packages.GetByKeys(ctx, req.PackageKeys)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pkgs))
	priceIDs := make([]string, 0, len(pkgs))
	oneTime := 0
	for _, pkg := range pkgs {
		switch {
		case !pkg.Active:
			return nil, fmt.Errorf("%w: %s", packagedomain.ErrInactive, pkg.PackageKey)
		case !pkg.IsPremium() || pkg.PriceRef() == "":
			return nil, fmt.Errorf("%w: %s", packagedomain.ErrNotPurchasable, pkg.PackageKey)
		}
		if pkg.OneTime {
			oneTime++
		}
		keys = append(keys, pkg.PackageKey)
		priceIDs = append(priceIDs, pkg.PriceRef())
	}

	mode := billingprovider.CheckoutModeSubscription
	switch oneTime {
	case 0:
	case len(pkgs):
		mode = billingprovider.CheckoutModePayment
	default:
		return nil, domain.ErrMixedBillingModes
	}

	metadata := billingprovider.PurchaseMetadata{OrgID: orgID, PackageKeys: keys}
	sessionReq := billingprovider.CheckoutSessionRequest{
		Mode:          mode,
		PriceIDs:      priceIDs,
		CustomerEmail: email,
		ClientRef:     orgID.String(),
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
	}

	customer, err := s.customers.FindByOrganization(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		customerID := customer.ID
		metadata.CustomerID = &customerID
		sessionReq.CustomerRef = customer.ProviderRef()
		if sessionReq.CustomerEmail == "" {
			sessionReq.CustomerEmail = customer.Email
		}
	}
	sessionReq.Metadata = metadata.Encode()

	session, err := s.provider.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("checkout session created",
		zap.String("org_id", orgID.String()),
		zap.Strings("package_keys", keys),
		zap.String("mode", string(mode)),
		zap.String("session_id", session.ID),
	)
	return &domain.CheckoutLink{SessionID: session.ID, URL: session.URL}, nil
}

func (s *Service) CreatePortalSession(ctx context.Context, orgID, returnURL string) (*domain.PortalLink, error) {
	parsedOrg, err := s.requireOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByOrganization(ctx, s.db, parsedOrg)
	if err != nil {
		return nil, err
	}
	if customer == nil || customer.ProviderRef() == "" {
		return nil, domain.ErrNoBillingIdentity
	}

	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		returnURL = s.cfg.PortalReturnURL
	}
	session, err := s.provider.CreatePortalSession(ctx, customer.ProviderRef(), returnURL)
	if err != nil {
		return nil, err
	}
	return &domain.PortalLink{URL: session.URL}, nil
}

// RemovePackage drops one package from the org's subscription. A
// subscription that holds other packages keeps running without the item;
// a subscription left with nothing else is canceled outright.
func (s *Service) RemovePackage(ctx context.Context, orgID, packageKey string) (*domain.RemovalResult, error) {
	parsedOrg, err := s.requireOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	packageKey = strings.TrimSpace(packageKey)
	if packageKey == "" {
		return nil, packagedomain.ErrInvalidKey
	}

	pkg, err := s.packageRepo.FindByKey(ctx, s.db, packageKey)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, fmt.Errorf("%w: %s", packagedomain.ErrNotFound, packageKey)
	}

	customer, err := s.customers.FindByOrganization(ctx, s.db, parsedOrg)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNoBillingIdentity
	}

	rows, err := s.entitlements.FindByCustomerAndPackages(ctx, s.db, customer.ID, []snowflake.ID{pkg.ID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].Status == entdomain.StatusExpired {
		return nil, domain.ErrNotEntitled
	}
	row := rows[0]

	result := &domain.RemovalResult{
		PackageKey:     pkg.PackageKey,
		SubscriptionID: row.SubscriptionRef(),
		Action:         domain.ActionLocalOnly,
	}
	if ref := row.SubscriptionRef(); ref != "" {
		action, err := s.removeAtProvider(ctx, ref, pkg)
		if err != nil {
			return nil, err
		}
		result.Action = action
	}

	count, err := s.entitlements.TransitionPackages(ctx, s.db, customer.ID, []snowflake.ID{pkg.ID}, entdomain.StatusExpired, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordEntitlementTransition(ctx, string(entdomain.StatusExpired), count)

	obslogger.WithContext(ctx, s.log).Info("package removed",
		zap.String("org_id", parsedOrg.String()),
		zap.String("customer_id", customer.ID.String()),
		zap.String("package_key", pkg.PackageKey),
		zap.String("action", string(result.Action)),
	)
	return result, nil
}

func (s *Service) removeAtProvider(ctx context.Context, subscriptionID string, pkg *packagedomain.FeaturePackage) (domain.RemovalAction, error) {
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}

	if len(sub.Items) <= 1 {
		if err := s.provider.CancelSubscription(ctx, subscriptionID); err != nil {
			return "", err
		}
		return domain.ActionSubscriptionCanceled, nil
	}

	var itemID string
	for _, item := range sub.Items {
		if item.PriceID == pkg.PriceRef() {
			itemID = item.ID
			break
		}
	}
	if itemID == "" {
		return "", fmt.Errorf("%w: %s on %s", domain.ErrItemNotFound, pkg.PackageKey, subscriptionID)
	}

	var metadata map[string]string
	if current, err := billingprovider.ParsePurchaseMetadata(sub.Metadata); err == nil {
		metadata = current.Without(pkg.PackageKey).Encode()
	}
	if err := s.provider.RemoveSubscriptionItem(ctx, subscriptionID, itemID, metadata); err != nil {
		return "", err
	}
	return domain.ActionItemRemoved, nil
}

func (s *Service) requireOrganization(ctx context.Context, raw string) (snowflake.ID, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || orgID <= 0 {
		return 0, domain.ErrInvalidOrganization
	}
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if org == nil {
		return 0, domain.ErrOrganizationMissing
	}
	return orgID, nil
}
