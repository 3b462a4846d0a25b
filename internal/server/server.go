package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accessdomain "github.com/smallbiznis/gatekeeper/internal/access/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	billingwebhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	checkoutdomain "github.com/smallbiznis/gatekeeper/internal/checkout/domain"
	"github.com/smallbiznis/gatekeeper/internal/config"
	customerdomain "github.com/smallbiznis/gatekeeper/internal/customer/domain"
	featurepackagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	"github.com/smallbiznis/gatekeeper/internal/observability"
	obsmiddleware "github.com/smallbiznis/gatekeeper/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gatekeeper/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if strings.EqualFold(obsCfg.Environment, "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	port := strings.TrimSpace(cfg.HTTPPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tokens          *auth.TokenService
	authzSvc        authorization.Service
	organizationSvc organizationdomain.Service
	packageSvc      featurepackagedomain.Service
	customerSvc     customerdomain.Service
	accessSvc       accessdomain.Service
	checkoutSvc     checkoutdomain.Service
	webhookSvc      billingwebhookdomain.Service
	sessionLimiter  *ratelimit.BillingSessionLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Tokens          *auth.TokenService
	AuthzSvc        authorization.Service
	OrganizationSvc organizationdomain.Service
	PackageSvc      featurepackagedomain.Service
	CustomerSvc     customerdomain.Service
	AccessSvc       accessdomain.Service
	CheckoutSvc     checkoutdomain.Service
	WebhookSvc      billingwebhookdomain.Service
	SessionLimiter  *ratelimit.BillingSessionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		tokens:          p.Tokens,
		authzSvc:        p.AuthzSvc,
		organizationSvc: p.OrganizationSvc,
		packageSvc:      p.PackageSvc,
		customerSvc:     p.CustomerSvc,
		accessSvc:       p.AccessSvc,
		checkoutSvc:     p.CheckoutSvc,
		webhookSvc:      p.WebhookSvc,
		sessionLimiter:  p.SessionLimiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Authenticated by signature, never by bearer token.
	s.engine.POST("/api/billing/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/catalog/packages", s.ListCatalogPackages)

	authed := api.Group("", s.AuthRequired())

	// -------- Organizations --------
	authed.POST("/orgs", s.CreateOrganization)
	authed.GET("/orgs", s.ListOrganizations)
	authed.GET("/orgs/:orgId", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationView), s.GetOrganization)
	authed.POST("/orgs/:orgId/members", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionMemberManage), s.AddOrganizationMember)

	// -------- Billing --------
	authed.GET("/orgs/:orgId/billing/customer",
		s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingManage),
		s.GetBillingCustomer,
	)
	authed.POST("/orgs/:orgId/billing/checkout",
		s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingManage),
		s.billingSessionRateLimit(ratelimit.EndpointCheckout),
		s.CreateCheckoutSession,
	)
	authed.POST("/orgs/:orgId/billing/portal",
		s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingManage),
		s.billingSessionRateLimit(ratelimit.EndpointPortal),
		s.CreatePortalSession,
	)
	authed.DELETE("/orgs/:orgId/billing/packages/:packageKey",
		s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingManage),
		s.RemovePackage,
	)

	// -------- Entitlements --------
	authed.GET("/orgs/:orgId/entitlements", s.authorizeOrgAction(authorization.ObjectEntitlement, authorization.ActionEntitlementView), s.ListEntitlements)
	authed.GET("/orgs/:orgId/entitlements/:capability", s.authorizeOrgAction(authorization.ObjectEntitlement, authorization.ActionEntitlementView), s.CheckEntitlement)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
