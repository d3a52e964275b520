package testutils

import (
	"time"

	"github.com/stayloop/authkit/config"
	"golang.org/x/crypto/bcrypt"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "Test App",
			URL:  "http://localhost:8080",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
		Auth: config.AuthConfig{
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireNumber:  true,
			RequireSpecial: false,
			BcryptCost:     bcrypt.MinCost,
		},
		JWT: config.JWTConfig{
			SecretKey:        "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6",
			RefreshSecretKey: "p6o5n4m3l2k1j0i9h8g7f6e5d4c3b2a1",
			Algorithm:        "HS256",
			AccessExpiry:     15 * time.Minute,
			RefreshExpiry:    168 * time.Hour,
			Issuer:           "authkit",
			Audience:         "authkit",
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
			Enabled:       true,
			LoginRate:     5,
			LoginPeriod:   time.Minute,
			RefreshRate:   60,
			RefreshPeriod: time.Minute,
		},
		TOTP: config.TOTPConfig{
			Enabled: true,
			Issuer:  "Test App",
		},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			DSN:          ":memory:",
			AutoMigrate:  true,
			QueryTimeout: 5 * time.Second,
		},
	}
}

var TestPasswords = struct {
	Valid       string
	TooShort    string
	NoUpper     string
	NoLower     string
	NoNumber    string
	WithSpecial string
}{
	Valid:       "Password123",
	TooShort:    "Pass1",
	NoUpper:     "password123",
	NoLower:     "PASSWORD123",
	NoNumber:    "Password",
	WithSpecial: "Password123!",
}

var TestUsers = struct {
	Guest struct {
		UserID   string
		Email    string
		Role     string
		Password string
	}
	Admin struct {
		UserID   string
		Email    string
		Role     string
		Password string
	}
}{
	Guest: struct {
		UserID   string
		Email    string
		Role     string
		Password string
	}{
		UserID:   "u1",
		Email:    "u1@x.com",
		Role:     "GUEST",
		Password: "Password123",
	},
	Admin: struct {
		UserID   string
		Email    string
		Role     string
		Password string
	}{
		UserID:   "u2",
		Email:    "admin@x.com",
		Role:     "ADMIN",
		Password: "Password456",
	},
}
