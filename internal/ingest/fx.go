package ingest

import (
	"github.com/smallbiznis/paydesk/internal/ingest/repository"
	"github.com/smallbiznis/paydesk/internal/ingest/service"
	"github.com/smallbiznis/paydesk/internal/ingest/store"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(repository.Provide),
	fx.Provide(store.NewSnapshotStore),
	fx.Provide(service.NewService),
)
