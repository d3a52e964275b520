// Package authkit assembles the token lifecycle stack behind a small
// facade: a signed access/refresh pair service, a rotating session ledger
// with replay detection, a revocation store, and an optional HTTP API.
//
// The zero-option call boots everything from environment configuration:
//
//	app, err := authkit.New(authkit.WithAuthAPI())
//	if err != nil {
//		log.Fatal(err)
//	}
//	app.Run()
package authkit

import (
	"github.com/stayloop/authkit/app"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/internal/options"
	"go.uber.org/fx"
)

type App = app.App

func New(opts ...options.Option) (*App, error) {
	return app.New(opts...)
}

// WithConfig supplies configuration directly instead of loading it from the
// environment.
func WithConfig(cfg *config.Config) options.Option {
	return options.WithConfig(cfg)
}

// WithModels registers embedder models for auto-migration on the shared
// database handle.
func WithModels(models ...any) options.Option {
	return options.WithModels(models...)
}

// WithIdentityFrom swaps the bundled user store for the embedder's own
// identity.Source and identity.Directory providers.
func WithIdentityFrom(providers ...fx.Option) options.Option {
	return options.WithIdentityFrom(providers...)
}

// WithTOTP enables two-step login enrollment and verification.
func WithTOTP() options.Option {
	return options.WithTOTP()
}

// WithMail enables the SMTP notifier used for new-device alerts.
func WithMail() options.Option {
	return options.WithMail()
}

// WithDevicePolicy enables device fingerprint tracking on sessions.
func WithDevicePolicy() options.Option {
	return options.WithDevicePolicy()
}

// WithAuthAPI mounts the bundled HTTP endpoints for login, rotation,
// logout, session listing and two-step management.
func WithAuthAPI() options.Option {
	return options.WithAuthAPI()
}

// WithFxOptions appends raw fx options to the application graph.
func WithFxOptions(opts ...fx.Option) options.Option {
	return options.WithFxOptions(opts...)
}
