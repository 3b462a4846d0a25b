package featurepackage

import (
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/repository"
	"github.com/smallbiznis/gatekeeper/internal/featurepackage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("featurepackage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
