package billingprovisioning

import (
	"strings"

	entdomain "github.com/smallbiznis/gatekeeper/internal/entitlement/domain"
)

// subscriptionStatuses covers the provider's full subscription vocabulary.
// Review this table whenever the provider adds a state.
var subscriptionStatuses = map[string]entdomain.Status{
	"active":             entdomain.StatusActive,
	"trialing":           entdomain.StatusActive,
	"past_due":           entdomain.StatusSuspended,
	"unpaid":             entdomain.StatusSuspended,
	"incomplete":         entdomain.StatusActive,
	"paused":             entdomain.StatusActive,
	"canceled":           entdomain.StatusExpired,
	"incomplete_expired": entdomain.StatusExpired,
}

// MapSubscriptionStatus fails closed: unknown statuses suspend access.
func MapSubscriptionStatus(providerStatus string) entdomain.Status {
	if status, ok := subscriptionStatuses[strings.ToLower(strings.TrimSpace(providerStatus))]; ok {
		return status
	}
	return entdomain.StatusSuspended
}
