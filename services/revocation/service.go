package revocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/tokens"
	"go.uber.org/zap"
)

var ErrStoreNotConfigured = errors.New("revocation store not configured")

// Service records token strings that must no longer be honored. Entries
// carry the token's own remaining validity as their TTL, so the store never
// remembers a token past the point where signature verification would
// reject it anyway.
//
// The service reports infrastructure failures to its callers; deciding to
// fail open on reads is the lifecycle service's call, not this layer's.
type Service struct {
	config *config.Config
	store  scs.Store
	codec  *tokens.Service
	logger *logging.Service
}

func NewService(cfg *config.Config, store scs.Store, codec *tokens.Service, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing token revocation service",
			zap.String("store_type", cfg.Revocation.Store),
			zap.Duration("cleanup_interval", cfg.Revocation.CleanupInterval))
	}

	return &Service{
		config: cfg,
		store:  store,
		codec:  codec,
		logger: logger,
	}
}

// Revoke blocks the exact token string until its natural expiry. Tokens that
// are already expired, or too mangled to ever verify, are a no-op success:
// there is nothing left to block.
func (s *Service) Revoke(tokenString, ownerUserID string) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	claims, err := s.codec.Peek(tokenString)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("skipping revocation of undecodable token", zap.Error(err))
		}
		return nil
	}

	if claims.ExpiresAt == nil {
		return nil
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		if s.logger != nil {
			s.logger.Debug("skipping revocation of already expired token",
				zap.String("owner_user_id", ownerUserID),
				zap.Time("expired_at", claims.ExpiresAt.Time))
		}
		return nil
	}

	if err := s.store.Commit(hashToken(tokenString), []byte(ownerUserID), claims.ExpiresAt.Time); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to record token revocation",
				zap.String("owner_user_id", ownerUserID),
				zap.Error(err))
		}
		return fmt.Errorf("failed to record token revocation: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("token revoked",
			zap.String("owner_user_id", ownerUserID),
			zap.Duration("remaining_validity", remaining))
	}

	return nil
}

func (s *Service) IsRevoked(tokenString string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	_, found, err := s.store.Find(hashToken(tokenString))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to check token revocation status", zap.Error(err))
		}
		return false, fmt.Errorf("failed to check token revocation status: %w", err)
	}

	return found, nil
}
