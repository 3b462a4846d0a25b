package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"github.com/smallbiznis/gatekeeper/internal/organization/repository"
	"github.com/smallbiznis/gatekeeper/internal/organization/service"
	"github.com/smallbiznis/gatekeeper/internal/testutil"
	"go.uber.org/zap"
)

func TestCreateOrganizationAssignsOwnerAndUniqueSlug(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := service.NewService(db, zap.NewNop(), repository.NewRepository(db), node)

	first, err := svc.Create(ctx, 42, domain.CreateOrganizationRequest{Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Slug != "acme-corp" {
		t.Fatalf("expected slug acme-corp, got %q", first.Slug)
	}

	second, err := svc.Create(ctx, 43, domain.CreateOrganizationRequest{Name: "Acme  Corp"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Slug == first.Slug {
		t.Fatalf("expected distinct slugs, both were %q", first.Slug)
	}

	orgID, _ := snowflake.ParseString(first.ID)
	role, err := svc.MemberRole(ctx, orgID, 42)
	if err != nil {
		t.Fatalf("member role: %v", err)
	}
	if role != domain.RoleOwner {
		t.Fatalf("expected owner, got %q", role)
	}

	if _, err := svc.MemberRole(ctx, orgID, 43); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestAddMemberNormalizesRole(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node, _ := snowflake.NewNode(5)
	svc := service.NewService(db, zap.NewNop(), repository.NewRepository(db), node)

	org, err := svc.Create(ctx, 1, domain.CreateOrganizationRequest{Name: "Globex"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orgID, _ := snowflake.ParseString(org.ID)

	if err := svc.AddMember(ctx, orgID, 2, "admin"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := svc.AddMember(ctx, orgID, 3, "superuser"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	role, err := svc.MemberRole(ctx, orgID, 2)
	if err != nil {
		t.Fatalf("member role: %v", err)
	}
	if role != domain.RoleAdmin {
		t.Fatalf("expected admin, got %q", role)
	}

	if _, err := svc.GetByID(ctx, "not-an-id"); !errors.Is(err, domain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
}
