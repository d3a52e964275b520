package e2etesting

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/stayloop/authkit/app"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/auth"
)

// E2EApp boots the full kit on a real listener so tests can drive the HTTP
// surface exactly the way a client would, while still reaching into the
// database and services for assertions.
type E2EApp struct {
	App      *app.App
	BaseURL  string
	Config   *config.Config
	DB       *gorm.DB
	AuthSvc  *auth.Service
	Coverage *RouteCoverage

	readinessTimeout time.Duration
}

type TestConfig struct {
	DatabaseDSN      string
	Quiet            bool
	TestPort         int
	OverrideConfig   func(*config.Config)
	EnableCoverage   bool
	ExcludePatterns  []string
	ReadinessTimeout time.Duration
}

func NewTestConfig() *TestConfig {
	return &TestConfig{
		DatabaseDSN: ":memory:",
		Quiet:       true,
	}
}

// testAppConfig builds a configuration that passes startup validation but
// keeps everything cheap: relaxed password policy, minimum bcrypt cost, no
// rate limiting unless a test opts back in.
func testAppConfig(testConfig *TestConfig) *config.Config {
	cfg := &config.Config{
		App: config.AppConfig{
			Name: "authkit-e2e",
			URL:  "http://127.0.0.1",
		},
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: "0",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			DSN:          testConfig.DatabaseDSN,
			AutoMigrate:  true,
			QueryTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			MinLength:  8,
			BcryptCost: bcrypt.MinCost,
		},
		JWT: config.JWTConfig{
			SecretKey:     "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6",
			Algorithm:     "HS256",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "authkit-e2e",
			Audience:      "authkit-e2e",
		},
		Session: config.SessionConfig{
			MaxAge:           168 * time.Hour,
			RememberMeMaxAge: 720 * time.Hour,
			SweepInterval:    time.Hour,
		},
		Revocation: config.RevocationConfig{
			Store:           "memory",
			CleanupInterval: time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			Store:         "memory",
			Enabled:       false,
			LoginRate:     5,
			LoginPeriod:   time.Minute,
			RefreshRate:   60,
			RefreshPeriod: time.Minute,
		},
		TOTP: config.TOTPConfig{
			Enabled: true,
			Issuer:  "authkit-e2e",
		},
		Mail: config.MailConfig{
			Host:        "localhost",
			Port:        1025,
			Encryption:  "none",
			FromAddress: "noreply@example.com",
			FromName:    "authkit-e2e",
		},
	}

	if !testConfig.Quiet {
		cfg.Log.Level = "debug"
	}
	if testConfig.TestPort > 0 {
		cfg.Server.Port = fmt.Sprintf("%d", testConfig.TestPort)
	}

	if testConfig.OverrideConfig != nil {
		testConfig.OverrideConfig(cfg)
	}

	return cfg
}

// BuildTestApp finishes the given builder with a test configuration. The
// returned app is assembled but not started.
func BuildTestApp(builder *app.AppBuilder, testConfig *TestConfig) (*E2EApp, error) {
	cfg := testAppConfig(testConfig)

	builtApp, err := builder.WithConfig(cfg).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build test app: %w", err)
	}

	readinessTimeout := testConfig.ReadinessTimeout
	if readinessTimeout == 0 {
		readinessTimeout = 5 * time.Second
	}

	e2eApp := &E2EApp{
		App:              builtApp,
		Config:           cfg,
		DB:               builtApp.DB(),
		AuthSvc:          builtApp.Auth(),
		readinessTimeout: readinessTimeout,
	}

	if testConfig.EnableCoverage {
		e2eApp.Coverage = NewRouteCoverage(testConfig.ExcludePatterns...)
		if echoServer := builtApp.Server(); echoServer != nil {
			echoServer.Use(e2eApp.Coverage.Middleware())
		}
	}

	return e2eApp, nil
}

// Start brings the app up and blocks until the listener accepts connections,
// then records the base URL of the OS-assigned port.
func (e *E2EApp) Start(ctx context.Context) error {
	if e.App == nil {
		return fmt.Errorf("application not built - call BuildTestApp first")
	}

	if err := e.App.Start(); err != nil {
		return fmt.Errorf("failed to start test app: %w", err)
	}

	if err := e.waitForListener(ctx); err != nil {
		return fmt.Errorf("server failed to become ready: %w", err)
	}

	if addr := e.App.Server().ListenerAddr(); addr != nil {
		e.BaseURL = fmt.Sprintf("http://%s", addr.String())
	} else {
		e.BaseURL = fmt.Sprintf("http://%s:%s", e.Config.Server.Host, e.Config.Server.Port)
	}

	if e.Coverage != nil {
		e.Coverage.RegisterRoutes(e.App.Server())
	}

	return nil
}

func (e *E2EApp) waitForListener(ctx context.Context) error {
	echoServer := e.App.Server()
	if echoServer == nil {
		return fmt.Errorf("echo server not initialized")
	}

	deadline := time.After(e.readinessTimeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addr := echoServer.ListenerAddr(); addr != nil {
			conn, err := net.DialTimeout("tcp", addr.String(), 100*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
		}
		select {
		case <-ticker.C:
			continue
		case <-deadline:
			return fmt.Errorf("timeout after %s waiting for HTTP listener", e.readinessTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *E2EApp) Stop(ctx context.Context) error {
	if e.App != nil {
		e.App.Stop()
	}
	return nil
}

// Client returns a fresh HTTP client pointed at the running app.
func (e *E2EApp) Client() *HTTPClient {
	return NewHTTPClient(e.BaseURL)
}
