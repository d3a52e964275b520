package e2etesting

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stayloop/authkit/session"
)

// SessionHelper inspects the session ledger directly so tests can assert on
// the durable state behind the API responses.
type SessionHelper struct {
	HTTPClient *HTTPClient
	DB         *gorm.DB
}

func NewSessionHelper(httpClient *HTTPClient, db *gorm.DB) *SessionHelper {
	return &SessionHelper{
		HTTPClient: httpClient,
		DB:         db,
	}
}

func (h *SessionHelper) ListSessions(accessToken string) (*Response, error) {
	return h.HTTPClient.WithBearer(accessToken).Get("/auth/sessions")
}

func (h *SessionHelper) DeleteSession(accessToken string, sessionID uint) (*Response, error) {
	return h.HTTPClient.WithBearer(accessToken).Delete("/auth/sessions/" + strconv.FormatUint(uint64(sessionID), 10))
}

func (h *SessionHelper) AssertActiveSessionCount(t *testing.T, userID string, expected int) {
	t.Helper()

	var count int64
	err := h.DB.Model(&session.Session{}).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Count(&count).Error
	require.NoError(t, err, "failed to count active sessions")
	require.Equal(t, int64(expected), count, "unexpected number of active sessions")
}

// GetSessionByToken finds the ledger row bound to a refresh token. Returns
// nil when no row matches.
func (h *SessionHelper) GetSessionByToken(t *testing.T, refreshToken string) *session.Session {
	t.Helper()

	sum := sha256.Sum256([]byte(refreshToken))

	var sess session.Session
	err := h.DB.Where("token_hash = ?", hex.EncodeToString(sum[:])).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err, "failed to find session by token")
	return &sess
}

func (h *SessionHelper) AssertSessionActive(t *testing.T, refreshToken string) *session.Session {
	t.Helper()

	sess := h.GetSessionByToken(t, refreshToken)
	require.NotNil(t, sess, "ledger row should exist for refresh token")
	require.True(t, sess.IsActive, "session should be active")
	return sess
}

// AssertTokenRetired checks that a refresh token no longer backs any live
// session: its row is gone (replaced by rotation) or deactivated.
func (h *SessionHelper) AssertTokenRetired(t *testing.T, refreshToken string) {
	t.Helper()

	sess := h.GetSessionByToken(t, refreshToken)
	if sess != nil {
		require.False(t, sess.IsActive, "retired token should not back an active session")
	}
}
