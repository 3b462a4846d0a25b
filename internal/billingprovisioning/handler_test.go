package billingprovisioning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accessdomain "github.com/smallbiznis/gatekeeper/internal/access/domain"
	accessservice "github.com/smallbiznis/gatekeeper/internal/access/service"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider/providertest"
	"github.com/smallbiznis/gatekeeper/internal/billingprovisioning"
	webhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	customerrepo "github.com/smallbiznis/gatekeeper/internal/customer/repository"
	entrepo "github.com/smallbiznis/gatekeeper/internal/entitlement/repository"
	packagerepo "github.com/smallbiznis/gatekeeper/internal/featurepackage/repository"
	packageservice "github.com/smallbiznis/gatekeeper/internal/featurepackage/service"
	"github.com/smallbiznis/gatekeeper/internal/notification"
	organizationrepo "github.com/smallbiznis/gatekeeper/internal/organization/repository"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	orgID        = snowflake.ID(100)
	analyticsPkg = int64(2)
	ssoPkg       = int64(3)
)

var (
	now       = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	notices []notification.PaymentFailedNotice
	err     error
	panics  bool
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, notice notification.PaymentFailedNotice) error {
	n.notices = append(n.notices, notice)
	if n.panics {
		panic("template exploded")
	}
	return n.err
}

type fixture struct {
	db       *gorm.DB
	provider *providertest.Fake
	notifier *recordingNotifier
	handler  *billingprovisioning.Handler
	access   accessdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedOrganization(t, db, int64(orgID), "acme")
	testutil.SeedPackage(t, db, 1, "core", "always_included", false, "")
	testutil.SeedPackage(t, db, analyticsPkg, "analytics", "premium", false, "price_analytics")
	testutil.SeedPackage(t, db, ssoPkg, "sso", "premium", false, "price_sso")
	testutil.SeedCapability(t, db, "reports", analyticsPkg)

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(now)
	provider := providertest.New()
	provider.AddSubscription(&billingprovider.Subscription{
		ID:               "sub_1",
		CustomerRef:      "cus_acme",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
	})
	notifier := &recordingNotifier{}

	handler := billingprovisioning.NewHandler(billingprovisioning.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fakeClock,
		Provider:      provider,
		Organizations: organizationrepo.NewRepository(db),
		Customers:     customerrepo.Provide(),
		Packages:      packagerepo.Provide(),
		Entitlements:  entrepo.Provide(),
		Notifier:      notifier,
	})
	catalog := packageservice.New(packageservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  packagerepo.Provide(),
	})
	access := accessservice.New(accessservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fakeClock,
		Customers:    customerrepo.Provide(),
		Catalog:      catalog,
		Packages:     packagerepo.Provide(),
		Entitlements: entrepo.Provide(),
	})

	return &fixture{db: db, provider: provider, notifier: notifier, handler: handler, access: access}
}

func metadata(keys ...string) billingprovider.PurchaseMetadata {
	return billingprovider.PurchaseMetadata{OrgID: orgID, PackageKeys: keys}
}

func subscriptionPurchase(keys ...string) webhookdomain.PurchaseCompleted {
	return webhookdomain.PurchaseCompleted{
		SessionID:      "cs_1",
		Mode:           "subscription",
		SubscriptionID: "sub_1",
		CustomerRef:    "cus_acme",
		CustomerEmail:  "Billing@Acme.test",
		Metadata:       metadata(keys...),
	}
}

func (f *fixture) decision(t *testing.T, capability string) *accessdomain.Decision {
	t.Helper()
	decision, err := f.access.Check(context.Background(), orgID.String(), capability)
	require.NoError(t, err)
	return decision
}

func (f *fixture) status(t *testing.T, packageID int64) string {
	t.Helper()
	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM entitlements WHERE feature_package_id = ?`, packageID,
	).Scan(&status).Error)
	return status
}

func TestPurchaseCompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	evt := subscriptionPurchase("analytics", "sso")

	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, evt))
	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, evt))

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM customers`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM organization_customers WHERE org_id = ?`, 1, int64(orgID))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 2)
	testutil.AssertCount(t, f.db,
		`SELECT COUNT(1) FROM entitlements WHERE status = 'ACTIVE' AND license_type = 'subscription' AND provider_subscription_id = 'sub_1'`, 2)

	decision := f.decision(t, "reports")
	assert.True(t, decision.Entitled)
	require.NotNil(t, decision.ExpiresAt)
	assert.True(t, decision.ExpiresAt.Equal(periodEnd))

	var email string
	require.NoError(t, f.db.Raw(`SELECT email FROM customers`).Scan(&email).Error)
	assert.Equal(t, "billing@acme.test", email)
}

func TestPurchaseCompletedOneTimeIsPerpetual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.handler.HandlePurchaseCompleted(ctx, webhookdomain.PurchaseCompleted{
		SessionID:     "cs_2",
		Mode:          "payment",
		CustomerRef:   "cus_acme",
		CustomerEmail: "billing@acme.test",
		Metadata:      metadata("sso"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.provider.CallCount("GetSubscription"))
	testutil.AssertCount(t, f.db,
		`SELECT COUNT(1) FROM entitlements WHERE license_type = 'perpetual' AND expires_at IS NULL AND status = 'ACTIVE'`, 1)
	assert.True(t, f.decision(t, "sso").Entitled)
}

func TestPurchaseCompletedSubscriptionModeWithoutSubscriptionIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	evt := subscriptionPurchase("analytics")
	evt.SubscriptionID = ""
	err := f.handler.HandlePurchaseCompleted(ctx, evt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, webhookdomain.ErrEventSkipped))

	assert.Equal(t, 0, f.provider.CallCount("GetSubscription"))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM customers`, 0)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 0)
}

func TestPurchaseCompletedProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.Err = errors.New("connection reset")

	err := f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingprovider.ErrProviderCall))

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM customers`, 0)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM organization_customers`, 0)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 0)
}

func TestPurchaseCompletedSkipsUnknownOrganizationAndPackages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	evt := subscriptionPurchase("analytics")
	evt.Metadata.OrgID = snowflake.ID(999)
	err := f.handler.HandlePurchaseCompleted(ctx, evt)
	assert.True(t, errors.Is(err, webhookdomain.ErrEventSkipped))

	err = f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("teleport"))
	assert.True(t, errors.Is(err, webhookdomain.ErrEventSkipped))

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 0)
}

func TestPurchaseCompletedIgnoresUnknownKeysAmongKnownOnes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics", "teleport")))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 1)
}

func updatedActive() webhookdomain.SubscriptionChanged {
	return webhookdomain.SubscriptionChanged{
		SubscriptionID:   "sub_1",
		CustomerRef:      "cus_acme",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		Metadata:         metadata("analytics"),
	}
}

func deleted() webhookdomain.SubscriptionDeleted {
	return webhookdomain.SubscriptionDeleted{
		SubscriptionID: "sub_1",
		CustomerRef:    "cus_acme",
		Metadata:       metadata("analytics"),
	}
}

func TestReorderDeletedProcessedLastExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics")))

	require.NoError(t, f.handler.HandleSubscriptionChanged(ctx, updatedActive()))
	require.NoError(t, f.handler.HandleSubscriptionDeleted(ctx, deleted()))

	assert.Equal(t, "EXPIRED", f.status(t, analyticsPkg))
	decision := f.decision(t, "reports")
	assert.False(t, decision.Entitled)
	assert.Equal(t, accessdomain.ReasonExpired, decision.Reason)
}

func TestReorderStaleUpdateProcessedLastReactivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics")))

	require.NoError(t, f.handler.HandleSubscriptionDeleted(ctx, deleted()))
	require.NoError(t, f.handler.HandleSubscriptionChanged(ctx, updatedActive()))

	assert.Equal(t, "ACTIVE", f.status(t, analyticsPkg))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 1)
	assert.True(t, f.decision(t, "reports").Entitled)
}

func TestSubscriptionChangedBeforeCheckoutCreatesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	evt := updatedActive()
	evt.Status = "past_due"
	require.NoError(t, f.handler.HandleSubscriptionChanged(ctx, evt))
	assert.Equal(t, "SUSPENDED", f.status(t, analyticsPkg))

	// The late checkout completion reuses the identity created above.
	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics")))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM customers`, 1)
	assert.Equal(t, "ACTIVE", f.status(t, analyticsPkg))
}

func TestSubscriptionDeletedNeverCreatesRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedCustomer(t, f.db, 500, "cus_acme", "billing@acme.test")
	testutil.LinkCustomer(t, f.db, int64(orgID), 500)

	require.NoError(t, f.handler.HandleSubscriptionDeleted(ctx, deleted()))
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM entitlements`, 0)
}

func TestSubscriptionDeletedUnknownIdentityIsSkipped(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandleSubscriptionDeleted(context.Background(), deleted())
	assert.True(t, errors.Is(err, webhookdomain.ErrEventSkipped))
}

func TestPaymentFailedSuspendsEveryActiveEntitlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics")))
	require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, webhookdomain.PurchaseCompleted{
		SessionID:   "cs_2",
		Mode:        "payment",
		CustomerRef: "cus_acme",
		Metadata:    metadata("sso"),
	}))
	require.True(t, f.decision(t, "reports").Entitled)
	require.True(t, f.decision(t, "sso").Entitled)

	err := f.handler.HandlePaymentFailed(ctx, webhookdomain.PaymentFailed{
		InvoiceID:        "in_1",
		CustomerRef:      "cus_acme",
		AmountDue:        4900,
		Currency:         "usd",
		HostedInvoiceURL: "https://invoice.test/in_1",
	})
	require.NoError(t, err)

	assert.Equal(t, "SUSPENDED", f.status(t, analyticsPkg))
	assert.Equal(t, "SUSPENDED", f.status(t, ssoPkg))
	for _, capability := range []string{"reports", "sso"} {
		decision := f.decision(t, capability)
		assert.False(t, decision.Entitled, capability)
		assert.Equal(t, accessdomain.ReasonSuspended, decision.Reason, capability)
		assert.Equal(t, accessdomain.UpgradeAvailableText, decision.Message, capability)
	}

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "billing@acme.test", f.notifier.notices[0].To)
	assert.Equal(t, "in_1", f.notifier.notices[0].InvoiceID)
}

func TestPaymentFailedNotificationFailureDoesNotFailHandler(t *testing.T) {
	for name, configure := range map[string]func(*recordingNotifier){
		"error": func(n *recordingNotifier) { n.err = errors.New("smtp down") },
		"panic": func(n *recordingNotifier) { n.panics = true },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			configure(f.notifier)
			require.NoError(t, f.handler.HandlePurchaseCompleted(ctx, subscriptionPurchase("analytics")))

			err := f.handler.HandlePaymentFailed(ctx, webhookdomain.PaymentFailed{InvoiceID: "in_1", CustomerRef: "cus_acme"})
			require.NoError(t, err)
			assert.Equal(t, "SUSPENDED", f.status(t, analyticsPkg))
			assert.Len(t, f.notifier.notices, 1)
		})
	}
}

func TestPaymentFailedUnknownIdentityIsSkipped(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandlePaymentFailed(context.Background(), webhookdomain.PaymentFailed{InvoiceID: "in_1", CustomerRef: "cus_ghost"})
	assert.True(t, errors.Is(err, webhookdomain.ErrEventSkipped))
	assert.Empty(t, f.notifier.notices)
}
