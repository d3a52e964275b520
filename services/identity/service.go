package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrEmailTaken            = errors.New("email already registered")
	ErrUserNotFound          = errors.New("user not found")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
)

// Source authenticates a credential pair. Returns ErrInvalidCredentials on
// any mismatch; a deactivated account authenticates successfully with
// Active=false so the caller decides how to reject it.
type Source interface {
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
}

// Directory resolves a user id to its current claims. Token rotation calls
// this on every exchange so a deactivated account stops minting tokens.
type Directory interface {
	FindByID(ctx context.Context, userID string) (*Identity, error)
}

// LocalService is a GORM-backed Source and Directory.
type LocalService struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service
}

func NewLocalService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *LocalService {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	return &LocalService{
		config: cfg,
		db:     db,
		logger: logger,
	}
}

func (s *LocalService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config != nil && s.config.Database.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.config.Database.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// ValidatePassword checks a candidate password against the configured
// strength policy.
func (s *LocalService) ValidatePassword(password string) error {
	if len(password) < s.config.Auth.MinLength {
		return fmt.Errorf("password must be at least %d characters", s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	var missing []string
	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}
	return nil
}

// HashPassword validates the password against the policy and returns its
// bcrypt hash.
func (s *LocalService) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

func (s *LocalService) VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Register creates a local user. The role defaults to GUEST.
func (s *LocalService) Register(ctx context.Context, email, password, role string) (*Identity, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	if role == "" {
		role = "GUEST"
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	if err := s.db.WithContext(tctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email availability: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.db.WithContext(tctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user registered",
			zap.String("user_id", user.ID),
			zap.String("role", user.Role))
	}

	return user.Identity(), nil
}

// Authenticate verifies an email/password pair. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *LocalService) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var user User
	err := s.db.WithContext(tctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed login attempt", zap.String("user_id", user.ID))
		}
		return nil, ErrInvalidCredentials
	}

	return user.Identity(), nil
}

func (s *LocalService) FindByID(ctx context.Context, userID string) (*Identity, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var user User
	err := s.db.WithContext(tctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return user.Identity(), nil
}

// SetActive enables or disables an account. Disabling stops token rotation
// on the account's next refresh.
func (s *LocalService) SetActive(ctx context.Context, userID string, active bool) error {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(tctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	if s.logger != nil {
		s.logger.Info("user active state changed",
			zap.String("user_id", userID),
			zap.Bool("active", active))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
