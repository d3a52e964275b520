package auth

import (
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/device"
	"github.com/stayloop/authkit/services/identity"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/revocation"
	"github.com/stayloop/authkit/services/tokens"
	"github.com/stayloop/authkit/session"
	"go.uber.org/fx"
)

func ProvideRevocationStore(svc *revocation.Service) RevocationStore {
	return svc
}

type OptionalDevice struct {
	fx.In
	Device *device.Service `optional:"true"`
}

func ProvideAuthService(cfg *config.Config, codec *tokens.Service, ledger *session.Service, store RevocationStore, directory identity.Directory, opt OptionalDevice, logger *logging.Service) *Service {
	return NewService(cfg, codec, ledger, store, directory, opt.Device, logger)
}

func validateConfiguration(svc *Service) error {
	return svc.ValidateConfiguration()
}

var Options = fx.Options(
	fx.Provide(ProvideRevocationStore),
	fx.Provide(ProvideAuthService),
	fx.Invoke(validateConfiguration),
)
