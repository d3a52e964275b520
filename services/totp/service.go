package totp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrDisabled        = errors.New("two-step login is disabled")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrAlreadyEnrolled = errors.New("two-step login already enrolled")
	ErrNotEnrolled     = errors.New("two-step login not enrolled")
	ErrCodeAlreadyUsed = errors.New("verification code already used")
)

// usedCodeWindow must cover the validation skew: codes are accepted one
// 30-second step either side of now.
const usedCodeWindow = 90 * time.Second

// Service manages two-step login enrollments and verifies codes. Accepted
// codes are single use inside their validity window.
type Service struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		db:     db,
		logger: logger,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config != nil && s.config.Database.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.config.Database.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) issuer() string {
	if s.config.TOTP.Issuer == "" {
		return s.config.App.Name
	}
	return s.config.TOTP.Issuer
}

// Enroll generates a secret for the user. A confirmed enrollment refuses
// re-enrollment; an unconfirmed one is restarted with a fresh secret.
func (s *Service) Enroll(ctx context.Context, userID, accountName string) (*Enrollment, error) {
	if !s.config.TOTP.Enabled {
		return nil, ErrDisabled
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing Enrollment
	err := s.db.WithContext(tctx).Where("user_id = ?", userID).First(&existing).Error
	if err == nil && existing.Enabled {
		return nil, ErrAlreadyEnrolled
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer(),
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	if existing.ID != 0 {
		existing.Secret = key.Secret()
		if err := s.db.WithContext(tctx).Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to replace secret: %w", err)
		}
		return &existing, nil
	}

	enrollment := &Enrollment{
		UserID: userID,
		Secret: key.Secret(),
	}
	if err := s.db.WithContext(tctx).Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to store secret: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("totp enrollment started", zap.String("user_id", userID))
	}

	return enrollment, nil
}

// ProvisioningURI renders the otpauth:// URI authenticator apps import.
func (s *Service) ProvisioningURI(enrollment *Enrollment, accountName string) string {
	issuer := s.issuer()
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(accountName), enrollment.Secret, url.QueryEscape(issuer))
}

// Confirm validates a first code against an enrollment and marks it enabled.
// The code is consumed like any other: it cannot be replayed at login.
func (s *Service) Confirm(ctx context.Context, userID, code string) error {
	if !s.config.TOTP.Enabled {
		return ErrDisabled
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	enrollment, err := s.find(tctx, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		if err := s.consumeCode(tx, userID, enrollment.Secret, code); err != nil {
			return err
		}
		if enrollment.Enabled {
			return nil
		}
		return tx.Model(enrollment).Update("enabled", true).Error
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("totp enrollment confirmed", zap.String("user_id", userID))
	}

	return nil
}

// Disable removes the enrollment and its replay-guard rows.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if !s.config.TOTP.Enabled {
		return ErrDisabled
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ?", userID).Delete(&Enrollment{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove enrollment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotEnrolled
		}
		if err := tx.Where("user_id = ?", userID).Delete(&UsedCode{}).Error; err != nil {
			return fmt.Errorf("failed to clear used codes: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("totp disabled", zap.String("user_id", userID))
	}

	return nil
}

// IsEnrolled reports whether two-step login is confirmed for the user.
// Lookup failures read as not enrolled.
func (s *Service) IsEnrolled(ctx context.Context, userID string) bool {
	if !s.config.TOTP.Enabled {
		return false
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	err := s.db.WithContext(tctx).Model(&Enrollment{}).
		Where("user_id = ? AND enabled = ?", userID, true).
		Count(&count).Error
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("totp enrollment check failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return false
	}

	return count > 0
}

// VerifyCode checks a login code against a confirmed enrollment and burns it.
func (s *Service) VerifyCode(ctx context.Context, userID, code string) error {
	if !s.config.TOTP.Enabled {
		return ErrDisabled
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	enrollment, err := s.find(tctx, userID)
	if err != nil {
		return err
	}
	if !enrollment.Enabled {
		return ErrNotEnrolled
	}

	err = s.db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		return s.consumeCode(tx, userID, enrollment.Secret, code)
	})
	if err != nil {
		if s.logger != nil && (errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrCodeAlreadyUsed)) {
			s.logger.Warn("totp verification refused",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return err
	}

	return nil
}

// SweepUsedCodes deletes replay-guard rows past the validation window.
func (s *Service) SweepUsedCodes(ctx context.Context) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cutoff := time.Now().Add(-usedCodeWindow).Unix()
	result := s.db.WithContext(tctx).Where("used_at < ?", cutoff).Delete(&UsedCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep used codes: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// StartSweepWorker runs SweepUsedCodes on the given interval until the
// context is cancelled.
func (s *Service) StartSweepWorker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepUsedCodes(ctx); err != nil {
					if s.logger != nil {
						s.logger.Error("used code sweep failed", zap.Error(err))
					}
				}
			}
		}
	}()
}

func (s *Service) find(ctx context.Context, userID string) (*Enrollment, error) {
	var enrollment Enrollment
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&enrollment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	return &enrollment, nil
}

// consumeCode accepts a code exactly once. The guard row outlives the
// validation skew, so a replay inside the window is refused before the code
// is even checked.
func (s *Service) consumeCode(tx *gorm.DB, userID, secret, code string) error {
	cutoff := time.Now().Add(-usedCodeWindow).Unix()

	var count int64
	if err := tx.Model(&UsedCode{}).
		Where("user_id = ? AND code = ? AND used_at > ?", userID, code, cutoff).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check used codes: %w", err)
	}
	if count > 0 {
		return ErrCodeAlreadyUsed
	}

	if !totp.Validate(code, secret) {
		return ErrInvalidCode
	}

	used := &UsedCode{UserID: userID, Code: code, UsedAt: time.Now().Unix()}
	if err := tx.Create(used).Error; err != nil {
		return fmt.Errorf("failed to record used code: %w", err)
	}

	return nil
}
