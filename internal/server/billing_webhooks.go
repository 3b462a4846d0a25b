package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingwebhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	stripeparser "github.com/smallbiznis/gatekeeper/internal/billingwebhook/stripe"
)

// Stripe caps event payloads well below this.
const maxWebhookBodyBytes int64 = 1 << 20

type webhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// HandleStripeWebhook acknowledges every verified delivery with 200, including
// events it cannot decode. Rejected signatures get 400; anything else gets 500
// so the provider redelivers.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	signature := strings.TrimSpace(c.GetHeader(stripeparser.SignatureHeader))
	if signature == "" {
		AbortWithError(c, billingwebhookdomain.ErrInvalidSignature)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billingwebhookdomain.ErrInvalidSignature):
			AbortWithError(c, err)
		default:
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{
				Type:    "internal_error",
				Message: "webhook processing failed",
			}})
		}
		return
	}

	c.Set("webhook_event_type", result.EventType)
	c.JSON(http.StatusOK, webhookAck{Received: true, Outcome: string(result.Outcome)})
}
