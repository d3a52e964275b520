package totp

import (
	"context"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideTOTPService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return NewService(cfg, db, logger)
}

func startSweepWorker(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	if !cfg.TOTP.Enabled || cfg.Session.SweepInterval <= 0 {
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

var Module = fx.Module("totp",
	fx.Provide(ProvideTOTPService),
	fx.Invoke(startSweepWorker),
)
