package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CheckEntitlement answers with 200 for both grants and denials; the body
// carries the decision.
func (s *Server) CheckEntitlement(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.accessSvc.Check(c.Request.Context(), orgID.String(), strings.TrimSpace(c.Param("capability")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) ListEntitlements(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.accessSvc.List(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListCatalogPackages(c *gin.Context) {
	items, err := s.packageSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
