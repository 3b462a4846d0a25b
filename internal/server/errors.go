package server

import (
	"errors"
	"net/http"
	"strings"

	accessdomain "github.com/smallbiznis/gatekeeper/internal/access/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	billingwebhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	checkoutdomain "github.com/smallbiznis/gatekeeper/internal/checkout/domain"
	customerdomain "github.com/smallbiznis/gatekeeper/internal/customer/domain"
	featurepackagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"github.com/smallbiznis/gatekeeper/pkg/db"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, billingwebhookdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInvalidSubject),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		db.IsDuplicateKeyErr(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, checkoutdomain.ErrNoBillingIdentity):
		return http.StatusNotFound, errorPayload{
			Type:    "no_billing_identity",
			Message: "organization has no billing relationship yet",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, billingprovider.ErrProviderCall),
		errors.Is(err, billingprovider.ErrSubscriptionMissing):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "billing provider request failed",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and code logged for a failed request.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingwebhookdomain.ErrInvalidPayload):
		return true
	case isOrganizationValidationError(err),
		isCheckoutValidationError(err),
		isPackageValidationError(err),
		isAccessValidationError(err):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, organizationdomain.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isCheckoutValidationError(err error) bool {
	switch {
	case errors.Is(err, checkoutdomain.ErrInvalidOrganization),
		errors.Is(err, checkoutdomain.ErrEmptyPackageKeys),
		errors.Is(err, checkoutdomain.ErrInvalidEmail),
		errors.Is(err, checkoutdomain.ErrMixedBillingModes):
		return true
	default:
		return false
	}
}

func isPackageValidationError(err error) bool {
	switch {
	case errors.Is(err, featurepackagedomain.ErrInvalidKey),
		errors.Is(err, featurepackagedomain.ErrInvalidCapability),
		errors.Is(err, featurepackagedomain.ErrInactive),
		errors.Is(err, featurepackagedomain.ErrNotPurchasable):
		return true
	default:
		return false
	}
}

func isAccessValidationError(err error) bool {
	return errors.Is(err, accessdomain.ErrInvalidOrganization) ||
		errors.Is(err, accessdomain.ErrInvalidCapability)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, checkoutdomain.ErrOrganizationMissing),
		errors.Is(err, checkoutdomain.ErrNotEntitled),
		errors.Is(err, checkoutdomain.ErrItemNotFound),
		errors.Is(err, featurepackagedomain.ErrNotFound),
		errors.Is(err, organizationdomain.ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// validationErrorCode unwraps to the domain sentinel, which carries the code text.
func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		billingwebhookdomain.ErrInvalidPayload,
		checkoutdomain.ErrInvalidOrganization,
		checkoutdomain.ErrEmptyPackageKeys,
		checkoutdomain.ErrInvalidEmail,
		checkoutdomain.ErrMixedBillingModes,
		featurepackagedomain.ErrInvalidKey,
		featurepackagedomain.ErrInvalidCapability,
		featurepackagedomain.ErrInactive,
		featurepackagedomain.ErrNotPurchasable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request", "invalid_payload":
		return "request"
	case "empty_package_keys", "feature_package_inactive", "feature_package_not_purchasable", "mixed_billing_modes":
		return "package_keys"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_payload":
		return "malformed webhook payload"
	case "empty_package_keys":
		return "at least one package is required"
	case "feature_package_inactive":
		return "package is no longer offered"
	case "feature_package_not_purchasable":
		return "package cannot be purchased"
	case "mixed_billing_modes":
		return "one-time and recurring packages must be bought separately"
	default:
		return "invalid value"
	}
}
