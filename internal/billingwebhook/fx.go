package billingwebhook

import (
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook/repository"
	"github.com/smallbiznis/gatekeeper/internal/billingwebhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingwebhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
