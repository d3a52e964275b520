package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stayloop/authkit/internal/options"
	"github.com/stayloop/authkit/server"
	"github.com/stayloop/authkit/services/logging"
)

func createTestApp() *App {
	cfg := createTestConfig()
	logger, _ := logging.NewService(logging.Config{
		Level:      logging.Error,
		Format:     "console",
		OutputPath: "stdout",
	})

	db, _ := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})

	return &App{
		fx:     nil,
		config: cfg,
		logger: logger,
		db:     db,
		server: &server.Server{},
	}
}

func TestNew(t *testing.T) {
	t.Run("minimal options", func(t *testing.T) {
		app, err := New(options.WithConfig(createTestConfig()))

		require.NoError(t, err)
		require.NotNil(t, app)
		assert.NotNil(t, app.Auth())
		assert.NotNil(t, app.Router())
	})

	t.Run("totp option migrates enrollment tables", func(t *testing.T) {
		app, err := New(
			options.WithConfig(createTestConfig()),
			options.WithTOTP(),
		)

		require.NoError(t, err)
		assert.True(t, app.DB().Migrator().HasTable("auth_totp_secrets"))
	})

	t.Run("auth api option mounts endpoints", func(t *testing.T) {
		app, err := New(
			options.WithConfig(createTestConfig()),
			options.WithAuthAPI(),
		)

		require.NoError(t, err)
		found := false
		for _, route := range app.Server().Routes() {
			if route.Path == "/auth/refresh" && route.Method == http.MethodPost {
				found = true
				break
			}
		}
		assert.True(t, found)
	})

	t.Run("rejected config", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.JWT.SecretKey = "short"

		app, err := New(options.WithConfig(cfg))

		assert.Error(t, err)
		assert.Nil(t, app)
	})
}

func TestApp_Start(t *testing.T) {
	t.Run("successful start", func(t *testing.T) {
		fxApp := fx.New(fx.NopLogger)
		app := &App{fx: fxApp}

		err := app.Start()

		assert.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		fxApp.Stop(ctx)
	})

	t.Run("start with error", func(t *testing.T) {
		fxApp := fx.New(
			fx.NopLogger,
			fx.Invoke(func(lc fx.Lifecycle) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return assert.AnError
					},
				})
			}),
		)
		app := &App{fx: fxApp}

		err := app.Start()

		assert.Error(t, err)
	})
}

func TestApp_StartTest(t *testing.T) {
	fxApp := fx.New(fx.NopLogger)
	app := &App{fx: fxApp}

	err := app.StartTest()

	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fxApp.Stop(ctx)
}

func TestApp_Stop(t *testing.T) {
	t.Run("successful stop", func(t *testing.T) {
		fxApp := fx.New(fx.NopLogger)
		app := &App{fx: fxApp}

		ctx := context.Background()
		fxApp.Start(ctx)

		app.Stop()
	})

	t.Run("stop with slow hook", func(t *testing.T) {
		fxApp := fx.New(
			fx.NopLogger,
			fx.Invoke(func(lc fx.Lifecycle) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(5 * time.Second):
							return nil
						}
					},
				})
			}),
		)
		app := &App{fx: fxApp}

		ctx := context.Background()
		fxApp.Start(ctx)

		app.Stop()
	})

	t.Run("stop without logger", func(t *testing.T) {
		fxApp := fx.New(
			fx.NopLogger,
			fx.Invoke(func(lc fx.Lifecycle) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return assert.AnError
					},
				})
			}),
		)
		app := &App{fx: fxApp, logger: nil}

		ctx := context.Background()
		fxApp.Start(ctx)

		app.Stop()
	})
}

func TestApp_StopTest(t *testing.T) {
	t.Run("successful test stop", func(t *testing.T) {
		fxApp := fx.New(fx.NopLogger)
		app := &App{fx: fxApp}

		ctx := context.Background()
		fxApp.Start(ctx)

		app.StopTest()
	})

	t.Run("test stop with error", func(t *testing.T) {
		fxApp := fx.New(
			fx.NopLogger,
			fx.Invoke(func(lc fx.Lifecycle) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return assert.AnError
					},
				})
			}),
		)
		app := &App{fx: fxApp, logger: nil}

		ctx := context.Background()
		fxApp.Start(ctx)

		app.StopTest()
	})
}

func TestApp_Server(t *testing.T) {
	t.Run("server exists", func(t *testing.T) {
		cfg := createTestConfig()
		logger, _ := logging.NewService(logging.Config{
			Level:      logging.Error,
			Format:     "console",
			OutputPath: "stdout",
		})
		srv := server.New(cfg, logger)
		app := &App{server: srv}

		result := app.Server()

		assert.Equal(t, srv.Echo(), result)
		assert.NotNil(t, result)
	})

	t.Run("server is nil", func(t *testing.T) {
		app := createTestApp()
		app.server = nil

		result := app.Server()

		assert.Nil(t, result)
	})

	t.Run("server is nil without logger", func(t *testing.T) {
		app := &App{server: nil, logger: nil}

		result := app.Server()

		assert.Nil(t, result)
	})
}

func TestApp_Router(t *testing.T) {
	srv := &server.Server{}
	app := &App{server: srv}

	result := app.Router()

	assert.Equal(t, srv, result)
}

func TestApp_DB(t *testing.T) {
	app := createTestApp()

	result := app.DB()

	assert.Equal(t, app.db, result)
}

func TestApp_Logger(t *testing.T) {
	app := createTestApp()

	result := app.Logger()

	assert.Equal(t, app.logger, result)
}

func TestApp_Config(t *testing.T) {
	app := createTestApp()

	result := app.Config()

	assert.Equal(t, app.config, result)
}

func TestApp_Auth(t *testing.T) {
	app := createTestApp()

	assert.Nil(t, app.Auth())
}

func TestApp_RegisterRoutes(t *testing.T) {
	t.Run("with valid server", func(t *testing.T) {
		cfg := createTestConfig()
		logger, _ := logging.NewService(logging.Config{
			Level:      logging.Error,
			Format:     "console",
			OutputPath: "stdout",
		})
		srv := server.New(cfg, logger)
		app := &App{server: srv}

		called := false
		app.RegisterRoutes(func(server *echo.Echo) {
			called = true
			assert.Equal(t, srv.Echo(), server)
		})

		assert.True(t, called)
	})

	t.Run("with nil server", func(t *testing.T) {
		app := &App{server: nil}

		called := false
		app.RegisterRoutes(func(server *echo.Echo) {
			called = true
		})

		assert.False(t, called)
	})
}

func TestApp_HTTPMethods(t *testing.T) {
	cfg := createTestConfig()
	logger, _ := logging.NewService(logging.Config{
		Level:      logging.Error,
		Format:     "console",
		OutputPath: "stdout",
	})
	srv := server.New(cfg, logger)
	app := &App{server: srv}
	e := srv.Echo()

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}

	hasRoute := func(path, method string) bool {
		for _, route := range e.Routes() {
			if route.Path == path && route.Method == method {
				return true
			}
		}
		return false
	}

	t.Run("GET", func(t *testing.T) {
		app.Get("/test", handler)
		assert.True(t, hasRoute("/test", http.MethodGet))
	})

	t.Run("POST", func(t *testing.T) {
		app.Post("/test-post", handler)
		assert.True(t, hasRoute("/test-post", http.MethodPost))
	})

	t.Run("PUT", func(t *testing.T) {
		app.Put("/test-put", handler)
		assert.True(t, hasRoute("/test-put", http.MethodPut))
	})

	t.Run("DELETE", func(t *testing.T) {
		app.Delete("/test-delete", handler)
		assert.True(t, hasRoute("/test-delete", http.MethodDelete))
	})
}

func TestApp_HTTPMethodsWithNilServer(t *testing.T) {
	app := &App{server: nil}

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}

	app.Get("/test", handler)
	app.Post("/test", handler)
	app.Put("/test", handler)
	app.Delete("/test", handler)
}
