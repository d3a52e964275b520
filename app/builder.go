package app

import (
	"context"
	"fmt"

	"github.com/stayloop/authkit/authapi"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/database"
	"github.com/stayloop/authkit/middleware/ratelimit"
	"github.com/stayloop/authkit/server"
	"github.com/stayloop/authkit/services/auth"
	"github.com/stayloop/authkit/services/device"
	"github.com/stayloop/authkit/services/identity"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/mail"
	"github.com/stayloop/authkit/services/revocation"
	"github.com/stayloop/authkit/services/tokens"
	"github.com/stayloop/authkit/services/totp"
	"github.com/stayloop/authkit/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config         *config.Config
	services       map[string]bool
	models         []any
	fxOptions      []fx.Option
	customIdentity bool
	errors         []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels registers additional models to auto-migrate alongside the
// session ledger and the bundled user store.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

// WithIdentityFrom replaces the bundled user store with the embedder's own
// identity.Source and identity.Directory providers.
func (b *AppBuilder) WithIdentityFrom(providers ...fx.Option) *AppBuilder {
	if len(providers) == 0 {
		b.addError("identity providers cannot be empty")
		return b
	}
	b.customIdentity = true
	b.fxOptions = append(b.fxOptions, providers...)
	return b
}

func (b *AppBuilder) WithTOTP() *AppBuilder {
	b.services["totp"] = true
	return b
}

func (b *AppBuilder) WithMail() *AppBuilder {
	b.services["mail"] = true
	return b
}

func (b *AppBuilder) WithDevicePolicy() *AppBuilder {
	b.services["devices"] = true
	return b
}

func (b *AppBuilder) WithAuthAPI() *AppBuilder {
	b.services["authapi"] = true
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if b.config == nil {
		b.WithAutoConfig()
	}

	if err := b.validate(); err != nil {
		return nil, err
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := b.openDatabase(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &App{
		config: b.config,
		logger: logger,
		db:     db,
	}

	fxOptions := b.buildFxOptions(db, logger)
	fxOptions = append(fxOptions, fx.Invoke(func(srv *server.Server, svc *auth.Service) {
		app.server = srv
		app.auth = svc
	}))

	app.fx = fx.New(fxOptions...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}

	if b.config == nil {
		return fmt.Errorf("config is required")
	}

	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The HTTP surface exposes the two-step endpoints, so it needs the
	// service behind them even when TOTP.Enabled leaves the login gate off.
	if b.services["authapi"] {
		b.services["totp"] = true
	}

	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config required for logger creation")
	}

	return logging.NewService(logging.Config{
		Level:      logging.LogLevel(b.config.Log.Level),
		Format:     b.config.Log.Format,
		OutputPath: b.config.Log.Output,
	})
}

// openDatabase builds the gorm handle eagerly so embedders can reach it
// before Start and migrations fail at construction rather than at runtime.
func (b *AppBuilder) openDatabase(logger *logging.Service) (*gorm.DB, error) {
	models := []any{&session.Session{}}
	if !b.customIdentity {
		models = append(models, &identity.User{})
	}
	if b.services["totp"] {
		models = append(models, &totp.Enrollment{}, &totp.UsedCode{})
	}
	models = append(models, b.models...)

	return database.ProvideDatabase(*b.config, database.WithModels(models...), logger)
}

func (b *AppBuilder) buildFxOptions(db *gorm.DB, logger *logging.Service) []fx.Option {
	options := []fx.Option{
		fx.Supply(b.config),
		fx.Supply(logger),
		fx.Supply(db),
		fx.NopLogger,
	}

	options = append(options,
		server.Module,
		ratelimit.Module,
		tokens.Options,
		session.Module,
		revocation.Module,
		auth.Options,
	)

	if !b.customIdentity {
		options = append(options, identity.Options)
	}
	if b.services["totp"] {
		options = append(options, totp.Module)
	}
	if b.services["mail"] {
		options = append(options, mail.Module)
	}
	if b.services["devices"] {
		options = append(options, device.Options)
	}
	if b.services["authapi"] {
		options = append(options, authapi.Module)
	}

	options = append(options, b.fxOptions...)

	options = append(options, b.buildLifecycleHooks()...)

	return options
}

func (b *AppBuilder) buildLifecycleHooks() []fx.Option {
	return []fx.Option{
		fx.Invoke(func(lc fx.Lifecycle, db *gorm.DB) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					sqlDB, err := db.DB()
					if err != nil {
						return err
					}
					return sqlDB.Close()
				},
			})
		}),
	}
}
