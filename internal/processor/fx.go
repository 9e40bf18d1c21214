package processor

import (
	"github.com/smallbiznis/paydesk/internal/processor/paypal"
	"go.uber.org/fx"
)

var Module = fx.Module("processor",
	fx.Provide(paypal.New),
)
