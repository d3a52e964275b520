package authapi

import (
	"go.uber.org/fx"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/openapi"
)

func ProvideDocument(cfg *config.Config) *openapi.Document {
	return openapi.New(cfg.App.Name, "1.0.0").
		Description("Token lifecycle API: password and two-step login, refresh token rotation, session management.").
		Server(cfg.App.URL, "Application server").
		Tag("auth", "Login, rotation and logout").
		Tag("sessions", "Session ledger").
		Tag("two-step", "Authenticator enrollment").
		BearerAuth("bearerAuth", "Access token from login or refresh.")
}

var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Provide(ProvideDocument),
	fx.Invoke(RegisterRoutes),
)
