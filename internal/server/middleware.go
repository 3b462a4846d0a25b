package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gatekeeper/internal/auth"
	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
)

const contextPrincipalKey = "principal"

// AuthRequired verifies the bearer token and stores the principal on the context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := auth.BearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		principal, err := s.tokens.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextPrincipalKey, principal)
		ctx := obscontext.WithActor(c.Request.Context(), "user", principal.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := orgIDFromRequest(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal.Actor(), orgID.String(), strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// billingSessionRateLimit throttles provider-hosted session creation per org.
func (s *Server) billingSessionRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.sessionLimiter.Enabled() {
			c.Next()
			return
		}
		orgID := strings.TrimSpace(c.Param("orgId"))
		result, err := s.sessionLimiter.Allow(c.Request.Context(), orgID, endpoint)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			if seconds := int(result.RetryAfter.Seconds()); seconds > 0 {
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (*auth.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*auth.Principal)
	if !ok || principal == nil || principal.UserID == 0 {
		return nil, false
	}
	return principal, true
}

func orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("orgId"))
	if raw == "" {
		return 0, newValidationError("org_id", "required", "organization id is required")
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil || orgID <= 0 {
		return 0, newValidationError("org_id", "invalid_org_id", "invalid organization id")
	}
	return orgID, nil
}
