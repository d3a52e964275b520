package identity

import (
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideLocalService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *LocalService {
	return NewLocalService(cfg, db, logger)
}

func ProvideSource(svc *LocalService) Source {
	return svc
}

func ProvideDirectory(svc *LocalService) Directory {
	return svc
}

// Options wires the local user store. Embedders with an existing user system
// provide their own Source and Directory instead of including this.
var Options = fx.Options(
	fx.Provide(ProvideLocalService),
	fx.Provide(ProvideSource),
	fx.Provide(ProvideDirectory),
)
