package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Server     ServerConfig     `envPrefix:"SERVER_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Auth       AuthConfig       `envPrefix:"AUTH_"`
	JWT        JWTConfig        `envPrefix:"JWT_"`
	Session    SessionConfig    `envPrefix:"SESSION_"`
	Revocation RevocationConfig `envPrefix:"REVOCATION_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	TOTP       TOTPConfig       `envPrefix:"TOTP_"`
	Mail       MailConfig       `envPrefix:"MAIL_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"authkit Application"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Host           string   `env:"HOST" envDefault:"localhost"`
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver       string        `env:"DRIVER" envDefault:"sqlite"`
	DSN          string        `env:"DSN" envDefault:"app.db"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	QueryTimeout time.Duration `env:"QUERY_TIMEOUT" envDefault:"5s"`
}

// AuthConfig governs the bundled password identity source.
type AuthConfig struct {
	MinLength      int  `env:"MIN_LENGTH" envDefault:"8"`
	RequireUpper   bool `env:"REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"REQUIRE_LOWER" envDefault:"true"`
	RequireNumber  bool `env:"REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial bool `env:"REQUIRE_SPECIAL" envDefault:"false"`
	BcryptCost     int  `env:"BCRYPT_COST" envDefault:"10"`
}

type JWTConfig struct {
	SecretKey        string        `env:"SECRET_KEY"`
	RefreshSecretKey string        `env:"REFRESH_SECRET_KEY"`
	Algorithm        string        `env:"ALGORITHM" envDefault:"HS256"`
	AccessExpiry     time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	RefreshExpiry    time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
	Issuer           string        `env:"ISSUER" envDefault:"authkit"`
	Audience         string        `env:"AUDIENCE" envDefault:"authkit"`
}

// SessionConfig governs the durable session ledger, not token lifetimes.
// MaxAge and RememberMeMaxAge bound how long a login may keep rotating
// regardless of the refresh token's own expiry.
type SessionConfig struct {
	MaxAge           time.Duration `env:"MAX_AGE" envDefault:"168h"`
	RememberMeMaxAge time.Duration `env:"REMEMBER_ME_MAX_AGE" envDefault:"720h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

type RevocationConfig struct {
	Store           string        `env:"STORE" envDefault:"memory"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
}

// RateLimitConfig budgets the credential-bearing endpoints. Login counts
// failures only so a correct password never locks anyone out; refresh counts
// every attempt because a replayed token fails fast and cheap.
type RateLimitConfig struct {
	Store         string        `env:"STORE" envDefault:"memory"`
	Enabled       bool          `env:"ENABLED" envDefault:"true"`
	LoginRate     int           `env:"LOGIN_RATE" envDefault:"5"`
	LoginPeriod   time.Duration `env:"LOGIN_PERIOD" envDefault:"1m"`
	RefreshRate   int           `env:"REFRESH_RATE" envDefault:"60"`
	RefreshPeriod time.Duration `env:"REFRESH_PERIOD" envDefault:"1m"`
}

type TOTPConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Issuer  string `env:"ISSUER" envDefault:"authkit Application"`
}

type MailConfig struct {
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         int    `env:"PORT" envDefault:"587"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Encryption   string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress  string `env:"FROM_ADDRESS"`
	FromName     string `env:"FROM_NAME"`
	TemplatesDir string `env:"TEMPLATES_DIR"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		return c.Validate()
	}

	return nil
}

// Validate enforces the startup bar: weak or missing secrets must stop the
// process before it ever signs a token.
func (c *Config) Validate() error {
	if err := validateJWTConfig(&c.JWT); err != nil {
		return err
	}

	if err := validateSessionConfig(&c.Session); err != nil {
		return err
	}

	if err := validateRevocationConfig(&c.Revocation); err != nil {
		return err
	}

	if err := validateRateLimitConfig(&c.RateLimit); err != nil {
		return err
	}

	return nil
}

func validateJWTConfig(cfg *JWTConfig) error {
	if err := validateSecretKey("JWT secret key", cfg.SecretKey); err != nil {
		return err
	}

	if cfg.RefreshSecretKey != "" {
		if err := validateSecretKey("JWT refresh secret key", cfg.RefreshSecretKey); err != nil {
			return err
		}
	}

	if cfg.Algorithm != "HS256" {
		return fmt.Errorf("JWT algorithm must be HS256, got %q", cfg.Algorithm)
	}

	if cfg.AccessExpiry <= 0 {
		return fmt.Errorf("JWT access expiry must be positive")
	}

	if cfg.RefreshExpiry <= cfg.AccessExpiry {
		return fmt.Errorf("JWT refresh expiry must exceed access expiry")
	}

	return nil
}

func validateSecretKey(name, key string) error {
	if len(key) < 32 {
		return fmt.Errorf("%s must be at least 32 characters long", name)
	}

	weakPatterns := []string{"password", "secret", "test", "example", "default", "change"}
	lowerKey := strings.ToLower(key)
	for _, pattern := range weakPatterns {
		if strings.Contains(lowerKey, pattern) {
			return fmt.Errorf("%s contains weak patterns (avoid: %s)", name, strings.Join(weakPatterns, ", "))
		}
	}

	return nil
}

func validateSessionConfig(cfg *SessionConfig) error {
	if cfg.MaxAge <= 0 {
		return fmt.Errorf("session max age must be positive")
	}

	if cfg.RememberMeMaxAge < cfg.MaxAge {
		return fmt.Errorf("session remember-me max age cannot be shorter than max age")
	}

	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	return nil
}

func validateRevocationConfig(cfg *RevocationConfig) error {
	switch cfg.Store {
	case "memory", "database":
	default:
		return fmt.Errorf("revocation store must be: memory or database")
	}

	if cfg.CleanupInterval < 0 {
		return fmt.Errorf("revocation cleanup interval cannot be negative")
	}

	return nil
}

func validateRateLimitConfig(cfg *RateLimitConfig) error {
	if cfg.Store != "memory" {
		return fmt.Errorf("rate limit store must be: memory")
	}

	if !cfg.Enabled {
		return nil
	}

	if cfg.LoginRate <= 0 || cfg.RefreshRate <= 0 {
		return fmt.Errorf("rate limit rates must be positive")
	}

	if cfg.LoginPeriod <= 0 || cfg.RefreshPeriod <= 0 {
		return fmt.Errorf("rate limit periods must be positive")
	}

	return nil
}

// RefreshSecret returns the dedicated refresh signing key, falling back to
// the access key when a second secret is not configured.
func (c *JWTConfig) RefreshSecret() string {
	if c.RefreshSecretKey != "" {
		return c.RefreshSecretKey
	}
	return c.SecretKey
}
