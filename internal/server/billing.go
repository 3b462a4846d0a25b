package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/gatekeeper/internal/checkout/domain"
)

type createCheckoutRequest struct {
	PackageKeys []string `json:"package_keys"`
	Email       string   `json:"email"`
}

type createPortalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		if principal, ok := principalFromContext(c); ok {
			email = principal.Email
		}
	}

	link, err := s.checkoutSvc.CreateCheckoutSession(c.Request.Context(), checkoutdomain.CheckoutRequest{
		OrgID:       orgID.String(),
		PackageKeys: req.PackageKeys,
		Email:       email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": link})
}

// CreatePortalSession accepts an empty body; the configured return URL is used then.
func (s *Server) CreatePortalSession(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createPortalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	link, err := s.checkoutSvc.CreatePortalSession(c.Request.Context(), orgID.String(), strings.TrimSpace(req.ReturnURL))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": link})
}

func (s *Server) RemovePackage(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.checkoutSvc.RemovePackage(c.Request.Context(), orgID.String(), strings.TrimSpace(c.Param("packageKey")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetBillingCustomer shows the billing identity currently linked to the org.
func (s *Server) GetBillingCustomer(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	customer, err := s.customerSvc.GetByOrganization(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}
