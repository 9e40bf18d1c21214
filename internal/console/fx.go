package console

import (
	"github.com/smallbiznis/paydesk/internal/console/service"
	"go.uber.org/fx"
)

var Module = fx.Module("console.service",
	fx.Provide(service.NewService),
)
