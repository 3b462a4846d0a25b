package access

import (
	"github.com/smallbiznis/gatekeeper/internal/access/service"
	"go.uber.org/fx"
)

var Module = fx.Module("access.service",
	fx.Provide(service.New),
)
