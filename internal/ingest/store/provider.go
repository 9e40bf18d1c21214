package store

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Reconcile *config.ReconcileConfigHolder
	Clock     clock.Clock
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

// NewSnapshotStore selects the snapshot backend named by SNAPSHOT_STORE.
func NewSnapshotStore(p Params) (domain.SnapshotStore, error) {
	ttl := p.Reconcile.Get().SnapshotTTL
	kind := strings.ToLower(strings.TrimSpace(p.Config.SnapshotStore))
	log := p.Log.Named("ingest.store")

	switch kind {
	case "", config.SnapshotStoreMemory:
		log.Info("snapshot store selected", zap.String("kind", config.SnapshotStoreMemory), zap.Duration("ttl", ttl))
		return NewMemoryStore(ttl, p.Clock), nil
	case config.SnapshotStoreRedis:
		store, err := NewRedisStore(p.Redis, ttl)
		if err != nil {
			return nil, fmt.Errorf("redis snapshot store: %w", err)
		}
		log.Info("snapshot store selected", zap.String("kind", kind), zap.Duration("ttl", ttl))
		return store, nil
	case config.SnapshotStoreBolt:
		store, err := NewBoltStore(p.Config.SnapshotBoltPath, ttl, p.Clock)
		if err != nil {
			return nil, fmt.Errorf("bolt snapshot store: %w", err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		log.Info("snapshot store selected",
			zap.String("kind", kind),
			zap.String("path", p.Config.SnapshotBoltPath),
			zap.Duration("ttl", ttl),
		)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStoreKind, kind)
	}
}
