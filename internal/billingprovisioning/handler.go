package billingprovisioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	webhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	customerdomain "github.com/smallbiznis/gatekeeper/internal/customer/domain"
	entdomain "github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
	packagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	"github.com/smallbiznis/gatekeeper/internal/notification"
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
	GenID         *snowflake.Node
	Clock         clock.Clock
	Provider      billingprovider.Provider
	Organizations organizationdomain.Repository
	Customers     customerdomain.Repository
	Packages      packagedomain.Repository
	Entitlements  entdomain.Repository
	Notifier      notification.Notifier `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics   `optional:"true"`
}

// Handler turns verified provider events into entitlement writes. Every write
// is an absolute upsert derived from the event alone, so duplicates are
// harmless and the last processed event decides the final state.
type Handler struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	provider     billingprovider.Provider
	orgs         organizationdomain.Repository
	customers    customerdomain.Repository
	packages     packagedomain.Repository
	entitlements entdomain.Repository
	notifier     notification.Notifier
	obsMetrics   *obsmetrics.Metrics
}

func NewHandler(p Params) *Handler {
	return &Handler{
		db:           p.DB,
		log:          p.Log.Named("billing.provisioning"),
		genID:        p.GenID,
		clock:        p.Clock,
		provider:     p.Provider,
		orgs:         p.Organizations,
		customers:    p.Customers,
		packages:     p.Packages,
		entitlements: p.Entitlements,
		notifier:     p.Notifier,
		obsMetrics:   p.ObsMetrics,
	}
}

// identityHints are the ways an event can point at a billing identity, in
// lookup order.
type identityHints struct {
	customerID  *snowflake.ID
	providerRef string
	email       string
	name        string
}

func (h *Handler) HandlePurchaseCompleted(ctx context.Context, evt webhookdomain.PurchaseCompleted) error {
	log := obslogger.WithContext(ctx, h.log).With(
		zap.String("org_id", evt.Metadata.OrgID.String()),
		zap.String("checkout_session_id", evt.SessionID),
	)

	if !evt.OneTime() && evt.SubscriptionID == "" {
		log.Warn("checkout session without subscription", zap.String("mode", evt.Mode))
		return fmt.Errorf("%w: %q session carries no subscription", webhookdomain.ErrEventSkipped, evt.Mode)
	}
	if err := h.requireOrganization(ctx, evt.Metadata.OrgID); err != nil {
		return err
	}
	pkgs, err := h.resolvePackages(ctx, log, evt.Metadata.PackageKeys)
	if err != nil {
		return err
	}

	grant := entdomain.Entitlement{
		Status:      entdomain.StatusActive,
		LicenseType: entdomain.LicensePerpetual,
	}
	providerRef := evt.CustomerRef
	if !evt.OneTime() {
		// The only outbound call; it must happen before anything is written.
		sub, err := h.provider.GetSubscription(ctx, evt.SubscriptionID)
		if err != nil {
			return err
		}
		grant.LicenseType = entdomain.LicenseSubscription
		grant.ExpiresAt = sub.CurrentPeriodEnd
		subscriptionID := sub.ID
		grant.ProviderSubscriptionID = &subscriptionID
		if providerRef == "" {
			providerRef = sub.CustomerRef
		}
	}

	hints := identityHints{
		customerID:  evt.Metadata.CustomerID,
		providerRef: providerRef,
		email:       evt.CustomerEmail,
		name:        evt.CustomerName,
	}

	var customer *customerdomain.Customer
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := h.clock.Now()
		customer, err = h.resolveOrCreateIdentity(ctx, tx, hints, now)
		if err != nil {
			return err
		}
		if err := h.customers.LinkOrganization(ctx, tx, evt.Metadata.OrgID, customer.ID, now); err != nil {
			return fmt.Errorf("link organization: %w", err)
		}
		return h.upsertAll(ctx, tx, customer.ID, pkgs, grant, now)
	})
	if err != nil {
		return err
	}

	h.recordTransition(ctx, log, customer.ID, pkgs, grant)
	return nil
}

func (h *Handler) HandleSubscriptionChanged(ctx context.Context, evt webhookdomain.SubscriptionChanged) error {
	log := obslogger.WithContext(ctx, h.log).With(
		zap.String("org_id", evt.Metadata.OrgID.String()),
		zap.String("subscription_id", evt.SubscriptionID),
		zap.String("provider_status", evt.Status),
	)

	if err := h.requireOrganization(ctx, evt.Metadata.OrgID); err != nil {
		return err
	}
	pkgs, err := h.resolvePackages(ctx, log, evt.Metadata.PackageKeys)
	if err != nil {
		return err
	}

	subscriptionID := evt.SubscriptionID
	grant := entdomain.Entitlement{
		Status:                 MapSubscriptionStatus(evt.Status),
		LicenseType:            entdomain.LicenseSubscription,
		ExpiresAt:              evt.CurrentPeriodEnd,
		ProviderSubscriptionID: &subscriptionID,
	}
	hints := identityHints{
		customerID:  evt.Metadata.CustomerID,
		providerRef: evt.CustomerRef,
	}

	var customer *customerdomain.Customer
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := h.clock.Now()
		customer, err = h.resolveIdentity(ctx, tx, hints)
		if err != nil {
			return err
		}
		if customer == nil {
			customer, err = h.linkedIdentity(ctx, tx, evt.Metadata.OrgID)
			if err != nil {
				return err
			}
		}
		// A nil identity means this arrived before the checkout completion;
		// creating it keeps this event's state from being lost.
		customer, err = h.ensureIdentity(ctx, tx, customer, hints, now)
		if err != nil {
			return err
		}
		if err := h.customers.LinkOrganization(ctx, tx, evt.Metadata.OrgID, customer.ID, now); err != nil {
			return fmt.Errorf("link organization: %w", err)
		}
		return h.upsertAll(ctx, tx, customer.ID, pkgs, grant, now)
	})
	if err != nil {
		return err
	}

	h.recordTransition(ctx, log, customer.ID, pkgs, grant)
	return nil
}

// HandleSubscriptionDeleted only touches rows that exist.
func (h *Handler) HandleSubscriptionDeleted(ctx context.Context, evt webhookdomain.SubscriptionDeleted) error {
	log := obslogger.WithContext(ctx, h.log).With(
		zap.String("org_id", evt.Metadata.OrgID.String()),
		zap.String("subscription_id", evt.SubscriptionID),
	)

	pkgs, err := h.resolvePackages(ctx, log, evt.Metadata.PackageKeys)
	if err != nil {
		return err
	}

	customer, err := h.resolveIdentity(ctx, h.db, identityHints{
		customerID:  evt.Metadata.CustomerID,
		providerRef: evt.CustomerRef,
	})
	if err != nil {
		return err
	}
	if customer == nil {
		customer, err = h.linkedIdentity(ctx, h.db, evt.Metadata.OrgID)
		if err != nil {
			return err
		}
	}
	if customer == nil {
		log.Info("subscription deleted for unknown billing identity")
		return fmt.Errorf("%w: %w", webhookdomain.ErrEventSkipped, customerdomain.ErrNotFound)
	}

	ids := make([]snowflake.ID, 0, len(pkgs))
	for _, pkg := range pkgs {
		ids = append(ids, pkg.ID)
	}
	count, err := h.entitlements.TransitionPackages(ctx, h.db, customer.ID, ids, entdomain.StatusExpired, h.clock.Now())
	if err != nil {
		return err
	}

	h.obsMetrics.RecordEntitlementTransition(ctx, string(entdomain.StatusExpired), count)
	log.Info("entitlements expired",
		zap.String("customer_id", customer.ID.String()),
		zap.Strings("package_keys", evt.Metadata.PackageKeys),
		zap.Int64("rows", count),
	)
	return nil
}

// HandlePaymentFailed suspends every active entitlement of the identity: a
// failed invoice is treated as an account-wide payment problem.
func (h *Handler) HandlePaymentFailed(ctx context.Context, evt webhookdomain.PaymentFailed) error {
	log := obslogger.WithContext(ctx, h.log).With(
		zap.String("invoice_id", evt.InvoiceID),
	)

	customer, err := h.customers.FindByProviderRef(ctx, h.db, evt.CustomerRef)
	if err != nil {
		return err
	}
	if customer == nil {
		log.Warn("payment failed for unknown billing identity")
		return fmt.Errorf("%w: %w", webhookdomain.ErrEventSkipped, customerdomain.ErrNotFound)
	}

	count, err := h.entitlements.BulkTransition(ctx, h.db, customer.ID, entdomain.StatusActive, entdomain.StatusSuspended, h.clock.Now())
	if err != nil {
		return err
	}

	h.obsMetrics.RecordEntitlementTransition(ctx, string(entdomain.StatusSuspended), count)
	log.Info("entitlements suspended",
		zap.String("customer_id", customer.ID.String()),
		zap.Int64("rows", count),
	)

	to := strings.TrimSpace(customer.Email)
	if to == "" {
		to = strings.TrimSpace(evt.CustomerEmail)
	}
	h.notifyPaymentFailed(ctx, log, notification.PaymentFailedNotice{
		To:               to,
		InvoiceID:        evt.InvoiceID,
		AmountDue:        evt.AmountDue,
		Currency:         evt.Currency,
		HostedInvoiceURL: evt.HostedInvoiceURL,
	})
	return nil
}

// notifyPaymentFailed never returns or panics into the caller.
func (h *Handler) notifyPaymentFailed(ctx context.Context, log *zap.Logger, notice notification.PaymentFailedNotice) {
	if h.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("payment failure notice panicked", zap.Any("panic", r))
		}
	}()
	if err := h.notifier.PaymentFailed(ctx, notice); err != nil {
		log.Warn("payment failure notice not sent", zap.Error(err))
	}
}

func (h *Handler) requireOrganization(ctx context.Context, orgID snowflake.ID) error {
	org, err := h.orgs.FindByID(ctx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return fmt.Errorf("%w: %w", webhookdomain.ErrEventSkipped, organizationdomain.ErrNotFound)
	}
	return nil
}

// resolvePackages drops keys missing from the catalog and skips the event
// when none remain.
func (h *Handler) resolvePackages(ctx context.Context, log *zap.Logger, keys []string) ([]packagedomain.FeaturePackage, error) {
	pkgs, err := h.packages.FindByKeys(ctx, h.db, keys)
	if err != nil {
		return nil, err
	}
	if len(pkgs) < len(keys) {
		found := make(map[string]struct{}, len(pkgs))
		for _, pkg := range pkgs {
			found[pkg.PackageKey] = struct{}{}
		}
		for _, key := range keys {
			if _, ok := found[key]; !ok {
				log.Warn("package key not in catalog", zap.String("package_key", key))
			}
		}
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%w: %w", webhookdomain.ErrEventSkipped, packagedomain.ErrNotFound)
	}
	return pkgs, nil
}

func (h *Handler) resolveIdentity(ctx context.Context, db *gorm.DB, hints identityHints) (*customerdomain.Customer, error) {
	if hints.customerID != nil {
		customer, err := h.customers.FindByID(ctx, db, *hints.customerID)
		if err != nil || customer != nil {
			return customer, err
		}
	}
	if ref := strings.TrimSpace(hints.providerRef); ref != "" {
		customer, err := h.customers.FindByProviderRef(ctx, db, ref)
		if err != nil || customer != nil {
			return customer, err
		}
	}
	if email := strings.TrimSpace(hints.email); email != "" {
		return h.customers.FindByEmail(ctx, db, email)
	}
	return nil, nil
}

func (h *Handler) linkedIdentity(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*customerdomain.Customer, error) {
	return h.customers.FindByOrganization(ctx, db, orgID)
}

func (h *Handler) resolveOrCreateIdentity(ctx context.Context, tx *gorm.DB, hints identityHints, now time.Time) (*customerdomain.Customer, error) {
	customer, err := h.resolveIdentity(ctx, tx, hints)
	if err != nil {
		return nil, err
	}
	return h.ensureIdentity(ctx, tx, customer, hints, now)
}

// ensureIdentity creates the identity when customer is nil and attaches the
// provider reference when the identity has none yet.
func (h *Handler) ensureIdentity(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer, hints identityHints, now time.Time) (*customerdomain.Customer, error) {
	ref := strings.TrimSpace(hints.providerRef)
	if customer == nil {
		customer = &customerdomain.Customer{
			ID:        h.genID.Generate(),
			Email:     strings.ToLower(strings.TrimSpace(hints.email)),
			Name:      strings.TrimSpace(hints.name),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if ref != "" {
			customer.ProviderCustomerID = &ref
		}
		if err := h.customers.Insert(ctx, tx, customer); err != nil {
			return nil, fmt.Errorf("create billing identity: %w", err)
		}
		return customer, nil
	}

	if customer.ProviderCustomerID == nil && ref != "" {
		if err := h.customers.AttachProviderRef(ctx, tx, customer.ID, ref, now); err != nil {
			return nil, fmt.Errorf("attach provider ref: %w", err)
		}
		customer.ProviderCustomerID = &ref
	}
	return customer, nil
}

func (h *Handler) upsertAll(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, pkgs []packagedomain.FeaturePackage, grant entdomain.Entitlement, now time.Time) error {
	for _, pkg := range pkgs {
		row := grant
		row.ID = h.genID.Generate()
		row.CustomerID = customerID
		row.FeaturePackageID = pkg.ID
		row.CreatedAt = now
		row.UpdatedAt = now
		if _, err := h.entitlements.Upsert(ctx, tx, &row); err != nil {
			return fmt.Errorf("upsert entitlement %s: %w", pkg.PackageKey, err)
		}
	}
	return nil
}

func (h *Handler) recordTransition(ctx context.Context, log *zap.Logger, customerID snowflake.ID, pkgs []packagedomain.FeaturePackage, grant entdomain.Entitlement) {
	keys := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		keys = append(keys, pkg.PackageKey)
	}
	fields := []zap.Field{
		zap.String("customer_id", customerID.String()),
		zap.Strings("package_keys", keys),
		zap.String("status", string(grant.Status)),
		zap.String("license_type", string(grant.LicenseType)),
	}
	if grant.ExpiresAt != nil {
		fields = append(fields, zap.Time("expires_at", *grant.ExpiresAt))
	}
	log.Info("entitlements upserted", fields...)
	h.obsMetrics.RecordEntitlementTransition(ctx, string(grant.Status), int64(len(pkgs)))
}

var _ webhookdomain.Handler = (*Handler)(nil)
