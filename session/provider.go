package session

import (
	"context"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(db, cfg, logger)
}

func startSweepWorker(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	if cfg.Session.SweepInterval <= 0 {
		return
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.StartSweepWorker(workerCtx, cfg.Session.SweepInterval)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Module("session",
	fx.Provide(ProvideSessionService),
	fx.Invoke(startSweepWorker),
)
