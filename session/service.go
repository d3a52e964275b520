package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// Service is the session ledger: one row per login, keyed by the hash of the
// refresh token currently honored for that session. Rotation is a single
// conditional update against that hash, so of any number of concurrent
// rotations presenting the same token at most one can succeed.
type Service struct {
	db     *gorm.DB
	config *config.Config
	logger *logging.Service
}

func NewService(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// withTimeout bounds a ledger query with the configured database timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config != nil && s.config.Database.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.config.Database.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// CreateSession records a fresh login. The session outlives individual
// refresh tokens: it expires after the configured window (the longer
// remember-me window when requested), and every rotation slides that window
// forward.
func (s *Service) CreateSession(ctx context.Context, userID, refreshToken, deviceID string, deviceInfo map[string]any, ipAddress, userAgent string, remembered bool) (*Session, error) {
	maxAge := s.config.Session.MaxAge
	if remembered {
		maxAge = s.config.Session.RememberMeMaxAge
	}

	infoJSON := ""
	if deviceInfo != nil {
		data, err := json.Marshal(deviceInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal device info: %w", err)
		}
		infoJSON = string(data)
	}

	now := time.Now()
	sess := &Session{
		UserID:       userID,
		TokenHash:    hashToken(refreshToken),
		RefreshToken: refreshToken,
		DeviceID:     deviceID,
		DeviceInfo:   infoJSON,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		Remembered:   remembered,
		IsActive:     true,
		CreatedAt:    now,
		LastUsed:     now,
		ExpiresAt:    now.Add(maxAge),
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.db.WithContext(tctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("session created",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Bool("remembered", remembered),
			zap.Time("expires_at", sess.ExpiresAt))
	}

	return sess, nil
}

// FindLiveByToken returns the active, unexpired session bound to the given
// refresh token, or ErrSessionNotFound.
func (s *Service) FindLiveByToken(ctx context.Context, refreshToken string) (*Session, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sess Session
	err := s.db.WithContext(tctx).
		Where("token_hash = ? AND is_active = ? AND expires_at > ?", hashToken(refreshToken), true, time.Now()).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return &sess, nil
}

// IsRefreshTokenLive reports whether a refresh token is the current token of
// an active, unexpired session.
func (s *Service) IsRefreshTokenLive(ctx context.Context, refreshToken string) (bool, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	err := s.db.WithContext(tctx).Model(&Session{}).
		Where("token_hash = ? AND is_active = ? AND expires_at > ?", hashToken(refreshToken), true, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check session token: %w", err)
	}
	return count > 0, nil
}

// ReplaceToken atomically swaps a session's refresh token. The update only
// matches while oldToken is still the session's live token, so a replayed
// rotation finds no row and gets ErrSessionNotFound.
func (s *Service) ReplaceToken(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) error {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now()
	result := s.db.WithContext(tctx).Model(&Session{}).
		Where("token_hash = ? AND is_active = ? AND expires_at > ?", hashToken(oldToken), true, now).
		Updates(map[string]any{
			"token_hash":    hashToken(newToken),
			"refresh_token": newToken,
			"expires_at":    newExpiresAt,
			"last_used":     now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to replace session token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	if s.logger != nil {
		s.logger.Debug("session token rotated",
			zap.String("old_token_hash", hashToken(oldToken)[:16]+"..."),
			zap.Time("expires_at", newExpiresAt))
	}

	return nil
}

// Deactivate marks the session holding the given refresh token as logged
// out. It is idempotent: deactivating an unknown or already inactive token
// reports zero sessions and no error.
func (s *Service) Deactivate(ctx context.Context, refreshToken string) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(tctx).Model(&Session{}).
		Where("token_hash = ? AND is_active = ?", hashToken(refreshToken), true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate session: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeactivateByID logs out one of the user's sessions by ledger ID and
// returns the row so the caller can revoke its tokens.
func (s *Service) DeactivateByID(ctx context.Context, userID string, sessionID uint) (*Session, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sess Session
	err := s.db.WithContext(tctx).
		Where("id = ? AND user_id = ? AND is_active = ?", sessionID, userID, true).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	result := s.db.WithContext(tctx).Model(&Session{}).
		Where("id = ? AND is_active = ?", sess.ID, true).
		Update("is_active", false)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to deactivate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSessionNotFound
	}

	return &sess, nil
}

// DeactivateAllForUser logs the user out everywhere and returns how many
// sessions were live.
func (s *Service) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(tctx).Model(&Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate user sessions: %w", result.Error)
	}

	if s.logger != nil {
		s.logger.Info("all sessions deactivated",
			zap.String("user_id", userID),
			zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// DeactivateAllExcept logs the user out everywhere except the session bound
// to keepToken.
func (s *Service) DeactivateAllExcept(ctx context.Context, userID, keepToken string) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(tctx).Model(&Session{}).
		Where("user_id = ? AND is_active = ? AND token_hash != ?", userID, true, hashToken(keepToken)).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate other sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListForUser returns the user's active, unexpired sessions, most recently
// used first. When currentToken is non-empty the matching session is flagged
// Current.
func (s *Service) ListForUser(ctx context.Context, userID, currentToken string) ([]Session, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sessions []Session
	err := s.db.WithContext(tctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Order("last_used DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	if currentToken != "" {
		currentHash := hashToken(currentToken)
		for i := range sessions {
			sessions[i].Current = sessions[i].TokenHash == currentHash
		}
	}

	return sessions, nil
}

// CountActiveForUser counts the user's active, unexpired sessions.
func (s *Service) CountActiveForUser(ctx context.Context, userID string) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	err := s.db.WithContext(tctx).Model(&Session{}).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// HasActiveDevice reports whether the user already has a live session from
// the given device.
func (s *Service) HasActiveDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	err := s.db.WithContext(tctx).Model(&Session{}).
		Where("user_id = ? AND device_id = ? AND is_active = ? AND expires_at > ?", userID, deviceID, true, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check device sessions: %w", err)
	}
	return count > 0, nil
}

// SweepExpired deletes rows that are expired or already deactivated. Tokens
// of swept sessions stay unusable: expired ones fail verification and
// deactivated ones were blocked in the revocation store at logout.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := s.db.WithContext(tctx).
		Where("expires_at < ? OR is_active = ?", time.Now(), false).
		Delete(&Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 && s.logger != nil {
		s.logger.Info("swept finished sessions", zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// StartSweepWorker runs SweepExpired on the configured interval until the
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
				if _, err := s.SweepExpired(ctx); err != nil {
					if s.logger != nil {
						s.logger.Error("session sweep failed", zap.Error(err))
					}
				}
			}
		}
	}()
}

// hashToken derives the storage key for a refresh token. Only the digest is
// indexed, so lookups never compare raw credentials.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
