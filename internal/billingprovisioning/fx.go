package billingprovisioning

import (
	webhookdomain "github.com/smallbiznis/gatekeeper/internal/billingwebhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.provisioning",
	fx.Provide(NewHandler),
	fx.Provide(func(h *Handler) webhookdomain.Handler { return h }),
)
