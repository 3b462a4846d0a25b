package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	organizationrepo "github.com/smallbiznis/gatekeeper/internal/organization/repository"
	organizationservice "github.com/smallbiznis/gatekeeper/internal/organization/service"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedOrganization(t, db, 100, "acme")
	testutil.SeedMember(t, db, 1, 100, 11, "OWNER")
	testutil.SeedMember(t, db, 2, 100, 12, "ADMIN")
	testutil.SeedMember(t, db, 3, 100, 13, "MEMBER")

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	orgs := organizationservice.NewService(db, zap.NewNop(), organizationrepo.NewRepository(db), node)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Organizations: orgs})
}

func TestAuthorizeBillingManageRequiresOwnerOrAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		actor string
		want  error
	}{
		{"user:11", nil},
		{"user:12", nil},
		{"user:13", ErrForbidden},
		{"user:14", ErrForbidden},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, tc.actor, "100", ObjectBilling, ActionBillingManage)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.actor, tc.want, err)
		}
	}
}

func TestAuthorizeEntitlementViewAllowsEveryMember(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, actor := range []string{"user:11", "user:12", "user:13"} {
		if err := svc.Authorize(ctx, actor, "100", ObjectEntitlement, ActionEntitlementView); err != nil {
			t.Fatalf("%s: expected access, got %v", actor, err)
		}
	}
	if err := svc.Authorize(ctx, "user:13", "101", ObjectEntitlement, ActionEntitlementView); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden outside the org, got %v", err)
	}
}

func TestAuthorizeRejectsMalformedInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, "api_key:1", "100", ObjectBilling, ActionBillingManage); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
	if err := svc.Authorize(ctx, "user:11", "acme", ObjectBilling, ActionBillingManage); !errors.Is(err, ErrInvalidOrganization) {
		t.Fatalf("expected invalid organization, got %v", err)
	}
	if err := svc.Authorize(ctx, "user:11", "100", "", ActionBillingManage); !errors.Is(err, ErrInvalidObject) {
		t.Fatalf("expected invalid object, got %v", err)
	}
}
