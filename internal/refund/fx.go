package refund

import (
	"github.com/smallbiznis/paydesk/internal/refund/lock"
	"github.com/smallbiznis/paydesk/internal/refund/repository"
	"github.com/smallbiznis/paydesk/internal/refund/service"
	"go.uber.org/fx"
)

var Module = fx.Module("refund.service",
	fx.Provide(repository.Provide),
	fx.Provide(lock.NewLocker),
	fx.Provide(service.NewService),
)
