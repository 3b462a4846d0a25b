package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obslogger "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectBilling      = "billing"
	ObjectEntitlement  = "entitlement"
	ObjectOrganization = "organization"
)

const (
	ActionBillingManage    = "billing.manage"
	ActionEntitlementView  = "entitlement.view"
	ActionOrganizationView = "organization.view"
	ActionMemberManage     = "member.manage"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Enforcer      *casbin.SyncedEnforcer
	Organizations organizationdomain.Service
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	orgs     organizationdomain.Service
}

// NewEnforcer loads policies through the gorm adapter, so the casbin_rule
// table lives next to the rest of the schema.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		orgs:     p.Organizations,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := s.resolveRole(ctx, actor, orgID)
	if err != nil {
		s.logDenied(ctx, actor, orgID, object, action, err)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(ctx, actor, orgID, object, action, ErrForbidden)
		return ErrForbidden
	}
	return nil
}

// resolveRole maps "user:<id>" to the member's current role in the org.
func (s *ServiceImpl) resolveRole(ctx context.Context, actor string, orgID string) (string, error) {
	if !strings.HasPrefix(actor, "user:") {
		return "", ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID <= 0 {
		return "", ErrInvalidActor
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID <= 0 {
		return "", ErrInvalidOrganization
	}

	role, err := s.orgs.MemberRole(ctx, parsedOrgID, userID)
	if err != nil {
		if errors.Is(err, organizationdomain.ErrNotMember) {
			return "", ErrForbidden
		}
		return "", err
	}
	return fmt.Sprintf("role:%s", strings.ToLower(role)), nil
}

// ensureGrouping keeps exactly one role link per subject and org, so a role
// change in organization_members takes effect on the next check.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(ctx context.Context, actor, orgID, object, action string, reason error) {
	obslogger.WithContext(ctx, s.log).Info("authorization denied",
		zap.String("actor", actor),
		zap.String("org_id", orgID),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(reason),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:member", ObjectEntitlement, ActionEntitlementView},
		{"role:member", ObjectOrganization, ActionOrganizationView},

		{"role:admin", ObjectEntitlement, ActionEntitlementView},
		{"role:admin", ObjectOrganization, ActionOrganizationView},
		{"role:admin", ObjectBilling, ActionBillingManage},
		{"role:admin", ObjectOrganization, ActionMemberManage},

		{"role:owner", ObjectEntitlement, ActionEntitlementView},
		{"role:owner", ObjectOrganization, ActionOrganizationView},
		{"role:owner", ObjectBilling, ActionBillingManage},
		{"role:owner", ObjectOrganization, ActionMemberManage},
	}

	// AddPolicy reports false without error for rules already stored.
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
