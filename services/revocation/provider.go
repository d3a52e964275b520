package revocation

import (
	"fmt"

	"github.com/alexedwards/scs/v2"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/tokens"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OptionalDB struct {
	fx.In
	DB *gorm.DB `optional:"true"`
}

func ProvideStore(cfg *config.Config, logger *logging.Service, optDB OptionalDB) (scs.Store, error) {
	if logger != nil {
		logger.Info("initializing revocation store",
			zap.String("store_type", cfg.Revocation.Store),
			zap.Bool("database_available", optDB.DB != nil))
	}

	switch cfg.Revocation.Store {
	case "memory":
		return NewMemoryStore(), nil
	case "database":
		if optDB.DB == nil {
			if logger != nil {
				logger.Warn("database revocation store requested but no database available - using memory store")
			}
			return NewMemoryStore(), nil
		}
		return NewDatabaseStore(optDB.DB, cfg.Revocation.CleanupInterval)
	default:
		return nil, fmt.Errorf("unsupported revocation store type: %s", cfg.Revocation.Store)
	}
}

func ProvideRevocationService(cfg *config.Config, store scs.Store, codec *tokens.Service, logger *logging.Service) *Service {
	return NewService(cfg, store, codec, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRevocationService),
)
