package auth

import (
	"context"
	"errors"
	"time"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/device"
	"github.com/stayloop/authkit/services/identity"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/tokens"
	"github.com/stayloop/authkit/session"
	"go.uber.org/zap"
)

var (
	ErrTokenRevoked        = errors.New("token has been revoked")
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token has expired")
	ErrUserInactive        = errors.New("user account is inactive")
	ErrStoreUnavailable    = errors.New("authentication store unavailable")
	ErrMFARequired         = errors.New("multi-factor verification required")

	// ErrSessionNotFound aliases the ledger sentinel: a rotation that loses
	// the conditional swap and a logout of an unknown session surface the
	// same way.
	ErrSessionNotFound = session.ErrSessionNotFound
)

// RevocationStore is the deny-list consulted on every validation and written
// on rotation and logout.
type RevocationStore interface {
	IsRevoked(tokenString string) (bool, error)
	Revoke(tokenString, ownerUserID string) error
}

// TokenPair is what a successful login or rotation hands back to the client.
// SessionID is zero when the ledger write failed and the pair was issued
// session-less.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	SessionID        uint   `json:"session_id,omitempty"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// LoginMeta carries the request provenance persisted with a new session.
type LoginMeta struct {
	DeviceID   string
	DeviceInfo map[string]any
	IPAddress  string
	UserAgent  string
	RememberMe bool
}

// Service orchestrates the token lifecycle: issuing pairs, validating access
// tokens, rotating refresh tokens, and logging sessions out. It is the only
// component request handlers talk to.
//
// The two stores fail differently on purpose. The revocation store is
// defense in depth over short-lived tokens, so its outages fail open. The
// ledger is the authoritative anti-replay record, so its outages fail the
// rotation.
type Service struct {
	config     *config.Config
	codec      *tokens.Service
	ledger     *session.Service
	revocation RevocationStore
	directory  identity.Directory
	device     *device.Service
	logger     *logging.Service
}

func NewService(cfg *config.Config, codec *tokens.Service, ledger *session.Service, revocation RevocationStore, directory identity.Directory, deviceSvc *device.Service, logger *logging.Service) *Service {
	return &Service{
		config:     cfg,
		codec:      codec,
		ledger:     ledger,
		revocation: revocation,
		directory:  directory,
		device:     deviceSvc,
		logger:     logger,
	}
}

// IssuePair mints an access/refresh pair for an authenticated identity and
// records the session. A ledger failure does not fail the login: the pair is
// returned session-less and only loses forced multi-device logout until the
// first rotation.
func (s *Service) IssuePair(ctx context.Context, id *identity.Identity, meta LoginMeta) (*TokenPair, error) {
	if !id.Active {
		return nil, ErrUserInactive
	}

	accessToken, err := s.codec.IssueAccessToken(id.UserID, id.Email, id.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.codec.IssueRefreshToken(id.UserID, id.Email, id.Role)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        s.codec.AccessExpirySeconds(),
		RefreshExpiresIn: s.codec.RefreshExpirySeconds(),
	}

	// Decided before the new session row would make this device "known".
	newDevice := false
	if s.device != nil && meta.DeviceID != "" {
		newDevice = s.device.IsNewDevice(ctx, id.UserID, meta.DeviceID)
	}

	sess, err := s.ledger.CreateSession(ctx, id.UserID, refreshToken, meta.DeviceID, meta.DeviceInfo, meta.IPAddress, meta.UserAgent, meta.RememberMe)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("session ledger write failed, issuing session-less pair",
				zap.String("user_id", id.UserID),
				zap.Error(err))
		}
		return pair, nil
	}
	pair.SessionID = sess.ID

	if newDevice {
		go s.device.NotifyNewDevice(id.Email, device.Describe(meta.UserAgent), meta.IPAddress)
	}

	return pair, nil
}

// ValidateAccess checks an access token cryptographically, then against the
// revocation store. Revocation store errors fail open: the token is short
// lived and the store is not load-bearing for correctness.
func (s *Service) ValidateAccess(ctx context.Context, tokenString string) (*tokens.Claims, error) {
	claims, err := s.codec.VerifyAccess(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocation.IsRevoked(tokenString)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("revocation check failed, failing open", zap.Error(err))
		}
		return claims, nil
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// Rotate exchanges a refresh token for a fresh pair. The ledger's
// conditional swap is the anti-replay gate: of any number of concurrent
// rotations presenting the same token, exactly one passes it.
func (s *Service) Rotate(ctx context.Context, presented string) (*TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(presented)
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrExpiredToken):
			return nil, ErrRefreshTokenExpired
		case errors.Is(err, tokens.ErrSecretMissing):
			return nil, err
		default:
			return nil, ErrRefreshTokenInvalid
		}
	}

	revoked, err := s.revocation.IsRevoked(presented)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("revocation check failed, failing open", zap.Error(err))
		}
	} else if revoked {
		return nil, ErrTokenRevoked
	}

	// Fresh claims from the directory: a deactivated account must not mint
	// tokens off a still-valid refresh token.
	id, err := s.directory.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUserInactive
		}
		if s.logger != nil {
			s.logger.Error("user directory lookup failed", zap.Error(err))
		}
		return nil, ErrStoreUnavailable
	}
	if !id.Active {
		return nil, ErrUserInactive
	}

	accessToken, err := s.codec.IssueAccessToken(id.UserID, id.Email, id.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.codec.IssueRefreshToken(id.UserID, id.Email, id.Role)
	if err != nil {
		return nil, err
	}

	sess, err := s.ledger.FindLiveByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		if s.logger != nil {
			s.logger.Error("session ledger lookup failed, refusing rotation", zap.Error(err))
		}
		return nil, ErrStoreUnavailable
	}

	window := s.config.Session.MaxAge
	if sess.Remembered {
		window = s.config.Session.RememberMeMaxAge
	}

	if err := s.ledger.ReplaceToken(ctx, presented, refreshToken, time.Now().Add(window)); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		if s.logger != nil {
			s.logger.Error("session ledger swap failed, refusing rotation", zap.Error(err))
		}
		return nil, ErrStoreUnavailable
	}

	// Best effort: the swap already retired the old token for rotation, the
	// deny-list entry just closes the access-style reuse window.
	if err := s.revocation.Revoke(presented, id.UserID); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to revoke rotated refresh token", zap.Error(err))
		}
	}

	if s.logger != nil {
		s.logger.Debug("refresh token rotated", zap.String("user_id", id.UserID))
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        sess.ID,
		ExpiresIn:        s.codec.AccessExpirySeconds(),
		RefreshExpiresIn: s.codec.RefreshExpirySeconds(),
	}, nil
}

// Logout ends the session bound to the refresh token. Reports whether a live
// session was actually ended; an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) (bool, error) {
	count, err := s.ledger.Deactivate(ctx, refreshToken)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("session deactivation failed", zap.Error(err))
		}
		return false, ErrStoreUnavailable
	}

	owner := ""
	if claims, err := s.codec.Peek(refreshToken); err == nil {
		owner = claims.UserID
	}
	if err := s.revocation.Revoke(refreshToken, owner); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
		}
	}

	return count > 0, nil
}

// LogoutAll ends every session of the user and returns how many were live.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	sessions, err := s.ledger.ListForUser(ctx, userID, "")
	if err != nil {
		if s.logger != nil {
			s.logger.Error("session listing failed", zap.Error(err))
		}
		return 0, ErrStoreUnavailable
	}

	count, err := s.ledger.DeactivateAllForUser(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("fleet logout failed", zap.Error(err))
		}
		return 0, ErrStoreUnavailable
	}

	s.revokeSessionTokens(sessions, userID)
	return count, nil
}

// LogoutOthers ends every session of the user except the one bound to
// currentToken.
func (s *Service) LogoutOthers(ctx context.Context, userID, currentToken string) (int64, error) {
	sessions, err := s.ledger.ListForUser(ctx, userID, currentToken)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("session listing failed", zap.Error(err))
		}
		return 0, ErrStoreUnavailable
	}

	count, err := s.ledger.DeactivateAllExcept(ctx, userID, currentToken)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("logout of other sessions failed", zap.Error(err))
		}
		return 0, ErrStoreUnavailable
	}

	others := make([]session.Session, 0, len(sessions))
	for _, sess := range sessions {
		if !sess.Current {
			others = append(others, sess)
		}
	}
	s.revokeSessionTokens(others, userID)

	return count, nil
}

// LogoutSession ends one of the user's sessions by ledger id.
func (s *Service) LogoutSession(ctx context.Context, userID string, sessionID uint) error {
	sess, err := s.ledger.DeactivateByID(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		if s.logger != nil {
			s.logger.Error("session deactivation failed", zap.Error(err))
		}
		return ErrStoreUnavailable
	}

	if err := s.revocation.Revoke(sess.RefreshToken, userID); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
		}
	}

	return nil
}

// ActiveSessions lists the user's live sessions, flagging the one bound to
// currentToken.
func (s *Service) ActiveSessions(ctx context.Context, userID, currentToken string) ([]session.Session, error) {
	sessions, err := s.ledger.ListForUser(ctx, userID, currentToken)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("session listing failed", zap.Error(err))
		}
		return nil, ErrStoreUnavailable
	}
	return sessions, nil
}

// ValidateConfiguration re-runs the configuration checks that gate startup.
func (s *Service) ValidateConfiguration() error {
	return s.config.Validate()
}

// revokeSessionTokens deny-lists the refresh tokens of already-deactivated
// sessions. Failures are logged: the ledger deactivation is authoritative.
func (s *Service) revokeSessionTokens(sessions []session.Session, userID string) {
	for _, sess := range sessions {
		if sess.RefreshToken == "" {
			continue
		}
		if err := s.revocation.Revoke(sess.RefreshToken, userID); err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to revoke refresh token on logout",
					zap.Uint("session_id", sess.ID),
					zap.Error(err))
			}
		}
	}
}
