package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/access"
	"github.com/smallbiznis/gatekeeper/internal/auth"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider/stripe"
	"github.com/smallbiznis/gatekeeper/internal/billingprovisioning"
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook"
	"github.com/smallbiznis/gatekeeper/internal/checkout"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/customer"
	"github.com/smallbiznis/gatekeeper/internal/entitlement"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage"
	"github.com/smallbiznis/gatekeeper/internal/migration"
	"github.com/smallbiznis/gatekeeper/internal/notification"
	"github.com/smallbiznis/gatekeeper/internal/observability"
	"github.com/smallbiznis/gatekeeper/internal/organization"
	"github.com/smallbiznis/gatekeeper/internal/providers/email"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"github.com/smallbiznis/gatekeeper/internal/seed"
	"github.com/smallbiznis/gatekeeper/internal/server"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing provider and outbound mail
		fx.Provide(stripe.Provide),
		email.Module,
		notification.Module,

		// Functional Domains
		organization.Module,
		customer.Module,
		featurepackage.Module,
		entitlement.Module,
		access.Module,
		billingprovisioning.Module,
		billingwebhook.Module,
		checkout.Module,
		auth.Module,
		authorization.Module,
		ratelimit.Module,
		seed.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
