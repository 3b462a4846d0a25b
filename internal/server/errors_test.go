package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/smallbiznis/gatekeeper/internal/auth"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/billingprovider"
	billingwebhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	checkoutdomain "github.com/smallbiznis/gatekeeper/internal/checkout/domain"
	featurepackagedomain "github.com/smallbiznis/gatekeeper/internal/featurepackage/domain"
	organizationdomain "github.com/smallbiznis/gatekeeper/internal/organization/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantType string
	}{
		{"webhook signature", billingwebhookdomain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{"webhook payload", billingwebhookdomain.ErrInvalidPayload, http.StatusBadRequest, "validation_error"},
		{"wrapped inactive package", fmt.Errorf("%w: legacy", featurepackagedomain.ErrInactive), http.StatusBadRequest, "validation_error"},
		{"expired token", fmt.Errorf("%w: token is expired", auth.ErrExpiredToken), http.StatusUnauthorized, "unauthorized"},
		{"authorization denied", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"mixed cart", checkoutdomain.ErrMixedBillingModes, http.StatusBadRequest, "validation_error"},
		{"no identity", checkoutdomain.ErrNoBillingIdentity, http.StatusNotFound, "no_billing_identity"},
		{"not entitled", checkoutdomain.ErrNotEntitled, http.StatusNotFound, "not_found"},
		{"unknown org", organizationdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"slug race", errors.New("UNIQUE constraint failed: organizations.slug"), http.StatusConflict, "conflict"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"provider failure", fmt.Errorf("%w: create portal session: boom", billingprovider.ErrProviderCall), http.StatusBadGateway, "provider_error"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

func TestValidationErrorCodeUsesSentinel(t *testing.T) {
	_, payload := mapError(fmt.Errorf("%w: sso", featurepackagedomain.ErrNotPurchasable))
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "feature_package_not_purchasable", payload.Errors[0].Code)
		assert.Equal(t, "package_keys", payload.Errors[0].Field)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(checkoutdomain.ErrEmptyPackageKeys)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "empty_package_keys", code)

	errType, code = classifyErrorForLog(nil)
	assert.Empty(t, errType)
	assert.Empty(t, code)
}
