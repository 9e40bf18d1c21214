package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewLocker picks the refund lock backend. A redis lock without a redis
// client falls back to the in-process lock.
func NewLocker(p Params) Locker {
	if p.Config.RefundLock == config.RefundLockRedis {
		if locker := NewRedisLocker(p.Redis); locker != nil {
			return locker
		}
		p.Log.Warn("redis refund lock requested without REDIS_ADDR, using local lock")
	}
	return NewLocalLocker(p.Clock)
}
