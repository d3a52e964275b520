package device

import (
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/mail"
	"github.com/stayloop/authkit/session"
	"go.uber.org/fx"
)

type OptionalMail struct {
	fx.In
	Mail *mail.Service `optional:"true"`
}

func ProvideDeviceService(cfg *config.Config, ledger *session.Service, opt OptionalMail, logger *logging.Service) *Service {
	var notifier Notifier
	if opt.Mail != nil {
		notifier = opt.Mail
	}
	return NewService(cfg, ledger, notifier, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideDeviceService),
)
