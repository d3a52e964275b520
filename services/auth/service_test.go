package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/device"
	"github.com/stayloop/authkit/services/identity"
	"github.com/stayloop/authkit/services/revocation"
	"github.com/stayloop/authkit/services/tokens"
	"github.com/stayloop/authkit/session"
	"github.com/stayloop/authkit/testutils"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]identity.Identity
	err   error
}

func (f *fakeDirectory) FindByID(_ context.Context, userID string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.users[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &id, nil
}

func (f *fakeDirectory) set(id identity.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id.UserID] = id
}

func (f *fakeDirectory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type failingRevocation struct{}

func (failingRevocation) IsRevoked(string) (bool, error) {
	return false, errors.New("revocation store down")
}

func (failingRevocation) Revoke(string, string) error {
	return errors.New("revocation store down")
}

// chanNotifier records dispatched notifications for the new-device tests.
type chanNotifier struct {
	sent chan string
}

func (n *chanNotifier) SendTemplate(_ string, to []string, _ string, _ map[string]any) error {
	n.sent <- to[0]
	return nil
}

func (n *chanNotifier) SendPlain(to []string, _, _ string) error {
	n.sent <- to[0]
	return nil
}

type testEnv struct {
	cfg    *config.Config
	db     *gorm.DB
	codec  *tokens.Service
	ledger *session.Service
	rev    *revocation.Service
	dir    *fakeDirectory
	svc    *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &session.Session{})
	codec := tokens.NewService(cfg, nil)
	ledger := session.NewService(db, cfg, nil)
	rev := revocation.NewService(cfg, revocation.NewMemoryStore(), codec, nil)

	dir := &fakeDirectory{users: map[string]identity.Identity{}}
	dir.set(guestIdentity())

	return &testEnv{
		cfg:    cfg,
		db:     db,
		codec:  codec,
		ledger: ledger,
		rev:    rev,
		dir:    dir,
		svc:    NewService(cfg, codec, ledger, rev, dir, nil, nil),
	}
}

func guestIdentity() identity.Identity {
	return identity.Identity{
		UserID: testutils.TestUsers.Guest.UserID,
		Email:  testutils.TestUsers.Guest.Email,
		Role:   testutils.TestUsers.Guest.Role,
		Active: true,
	}
}

func adminIdentity() identity.Identity {
	return identity.Identity{
		UserID: testutils.TestUsers.Admin.UserID,
		Email:  testutils.TestUsers.Admin.Email,
		Role:   testutils.TestUsers.Admin.Role,
		Active: true,
	}
}

func defaultMeta() LoginMeta {
	return LoginMeta{
		DeviceID:   "dev-aaaa1111",
		DeviceInfo: map[string]any{"browser": "Firefox", "os": "Linux"},
		IPAddress:  "203.0.113.9",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64)",
	}
}

func (e *testEnv) login(t *testing.T, id identity.Identity, meta LoginMeta) *TokenPair {
	t.Helper()
	pair, err := e.svc.IssuePair(context.Background(), &id, meta)
	require.NoError(t, err)
	require.NotZero(t, pair.SessionID)
	return pair
}

// mintExpiredRefresh issues a refresh token that is already past its expiry.
// The codec reads the configured lifetime at issue time.
func (e *testEnv) mintExpiredRefresh(t *testing.T) string {
	t.Helper()
	original := e.cfg.JWT.RefreshExpiry
	e.cfg.JWT.RefreshExpiry = -time.Minute
	token, err := e.codec.IssueRefreshToken(testutils.TestUsers.Guest.UserID, testutils.TestUsers.Guest.Email, testutils.TestUsers.Guest.Role)
	e.cfg.JWT.RefreshExpiry = original
	require.NoError(t, err)
	return token
}

// breakLedger closes the underlying database so every ledger call errors.
func (e *testEnv) breakLedger(t *testing.T) {
	t.Helper()
	sqlDB, err := e.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestNewService(t *testing.T) {
	env := newTestEnv(t)
	assert.NotNil(t, env.svc)
	assert.NoError(t, env.svc.ValidateConfiguration())
}

func TestService_IssuePair(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a pair and records the session", func(t *testing.T) {
		env := newTestEnv(t)
		id := guestIdentity()

		pair, err := env.svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)

		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
		assert.Equal(t, int((15 * time.Minute).Seconds()), pair.ExpiresIn)
		assert.Equal(t, int((168 * time.Hour).Seconds()), pair.RefreshExpiresIn)
		assert.NotZero(t, pair.SessionID)

		claims, err := env.codec.VerifyAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, id.UserID, claims.UserID)
		assert.Equal(t, id.Email, claims.Email)
		assert.Equal(t, id.Role, claims.Role)

		sess, err := env.ledger.FindLiveByToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, pair.SessionID, sess.ID)
		assert.Equal(t, id.UserID, sess.UserID)
		assert.Equal(t, "dev-aaaa1111", sess.DeviceID)
		assert.Equal(t, "203.0.113.9", sess.IPAddress)
		assert.False(t, sess.Remembered)
		assert.WithinDuration(t, time.Now().Add(env.cfg.Session.MaxAge), sess.ExpiresAt, 2*time.Second)
	})

	t.Run("remember me extends the session window", func(t *testing.T) {
		env := newTestEnv(t)
		id := guestIdentity()
		meta := defaultMeta()
		meta.RememberMe = true

		pair, err := env.svc.IssuePair(ctx, &id, meta)
		require.NoError(t, err)

		sess, err := env.ledger.FindLiveByToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, sess.Remembered)
		assert.WithinDuration(t, time.Now().Add(env.cfg.Session.RememberMeMaxAge), sess.ExpiresAt, 2*time.Second)
	})

	t.Run("refuses an inactive identity", func(t *testing.T) {
		env := newTestEnv(t)
		id := guestIdentity()
		id.Active = false

		pair, err := env.svc.IssuePair(ctx, &id, defaultMeta())
		assert.ErrorIs(t, err, ErrUserInactive)
		assert.Nil(t, pair)
	})

	t.Run("ledger outage degrades to a session-less pair", func(t *testing.T) {
		env := newTestEnv(t)
		env.breakLedger(t)
		id := guestIdentity()

		pair, err := env.svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Zero(t, pair.SessionID)

		claims, err := env.codec.VerifyAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, id.UserID, claims.UserID)
	})

	t.Run("notifies on a sign-in from an unseen device", func(t *testing.T) {
		env := newTestEnv(t)
		notifier := &chanNotifier{sent: make(chan string, 4)}
		deviceSvc := device.NewService(env.cfg, env.ledger, notifier, nil)
		svc := NewService(env.cfg, env.codec, env.ledger, env.rev, env.dir, deviceSvc, nil)
		id := guestIdentity()

		_, err := svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)

		select {
		case to := <-notifier.sent:
			assert.Equal(t, id.Email, to)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a new-device notification")
		}

		// The same device is now on a live session and stays quiet.
		_, err = svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)

		select {
		case <-notifier.sent:
			t.Fatal("known device must not trigger a notification")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestService_ValidateAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a valid access token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		claims, err := env.svc.ValidateAccess(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, testutils.TestUsers.Guest.UserID, claims.UserID)
		assert.Equal(t, testutils.TestUsers.Guest.Role, claims.Role)
		assert.Equal(t, "access", claims.TokenType)
	})

	t.Run("rejects a refresh token presented as access", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		claims, err := env.svc.ValidateAccess(ctx, pair.RefreshToken)
		assert.Error(t, err)
		assert.Nil(t, claims)
	})

	t.Run("rejects a malformed token", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.ValidateAccess(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, tokens.ErrMalformedToken)
	})

	t.Run("rejects a revoked token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		require.NoError(t, env.rev.Revoke(pair.AccessToken, testutils.TestUsers.Guest.UserID))

		claims, err := env.svc.ValidateAccess(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
		assert.Nil(t, claims)
	})

	t.Run("revocation store outage fails open", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewService(env.cfg, env.codec, env.ledger, failingRevocation{}, env.dir, nil, nil)
		pair := env.login(t, guestIdentity(), defaultMeta())

		claims, err := svc.ValidateAccess(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, testutils.TestUsers.Guest.UserID, claims.UserID)
	})
}

func TestService_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the token for a fresh pair", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		rotated, err := env.svc.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, pair.AccessToken, rotated.AccessToken)
		assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
		assert.Equal(t, pair.SessionID, rotated.SessionID)

		_, err = env.codec.VerifyAccess(rotated.AccessToken)
		assert.NoError(t, err)

		live, err := env.ledger.IsRefreshTokenLive(ctx, rotated.RefreshToken)
		require.NoError(t, err)
		assert.True(t, live)

		live, err = env.ledger.IsRefreshTokenLive(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("rejects a replayed token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		replayed, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.Nil(t, replayed)
		assert.True(t, errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrSessionNotFound),
			"replay must surface as revoked or session-not-found, got %v", err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.Rotate(ctx, "garbage")
		assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
	})

	t.Run("rejects an access token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		_, err := env.svc.Rotate(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
	})

	t.Run("rejects an expired refresh token", func(t *testing.T) {
		env := newTestEnv(t)
		expired := env.mintExpiredRefresh(t)

		_, err := env.svc.Rotate(ctx, expired)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
	})

	t.Run("rejects a revoked token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		require.NoError(t, env.rev.Revoke(pair.RefreshToken, testutils.TestUsers.Guest.UserID))

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("rejects a user the directory no longer knows", func(t *testing.T) {
		env := newTestEnv(t)
		ghost := identity.Identity{UserID: "ghost", Email: "ghost@x.com", Role: "GUEST", Active: true}
		pair := env.login(t, ghost, defaultMeta())

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrUserInactive)
	})

	t.Run("rejects a deactivated account", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		deactivated := guestIdentity()
		deactivated.Active = false
		env.dir.set(deactivated)

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrUserInactive)
	})

	t.Run("directory outage refuses rotation", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		env.dir.setErr(errors.New("directory down"))

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("rejects a token with no session", func(t *testing.T) {
		env := newTestEnv(t)
		token, err := env.codec.IssueRefreshToken(testutils.TestUsers.Guest.UserID, testutils.TestUsers.Guest.Email, testutils.TestUsers.Guest.Role)
		require.NoError(t, err)

		_, err = env.svc.Rotate(ctx, token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("revocation store outage fails open", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewService(env.cfg, env.codec, env.ledger, failingRevocation{}, env.dir, nil, nil)
		id := guestIdentity()

		pair, err := svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)

		rotated, err := svc.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, rotated.RefreshToken)
	})

	t.Run("ledger outage refuses rotation", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		env.breakLedger(t)

		_, err := env.svc.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("exactly one concurrent rotation wins", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		// In-memory sqlite keeps one database per connection. A single
		// connection serializes the pool without weakening the conditional
		// swap under test.
		sqlDB, err := env.db.DB()
		require.NoError(t, err)
		sqlDB.SetMaxOpenConns(1)

		const rotations = 8
		errs := make([]error, rotations)
		var wg sync.WaitGroup
		for i := 0; i < rotations; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.svc.Rotate(ctx, pair.RefreshToken)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrTokenRevoked),
				"loser must see session-not-found or revoked, got %v", err)
		}
		assert.Equal(t, 1, wins)

		_, err = env.svc.Rotate(ctx, pair.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("mints fresh claims from the directory", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		promoted := guestIdentity()
		promoted.Role = "ADMIN"
		env.dir.set(promoted)

		rotated, err := env.svc.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		claims, err := env.codec.VerifyAccess(rotated.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "ADMIN", claims.Role)
	})

	t.Run("remembered window slides on rotation", func(t *testing.T) {
		env := newTestEnv(t)
		meta := defaultMeta()
		meta.RememberMe = true
		pair := env.login(t, guestIdentity(), meta)

		rotated, err := env.svc.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		sess, err := env.ledger.FindLiveByToken(ctx, rotated.RefreshToken)
		require.NoError(t, err)
		assert.True(t, sess.Remembered)
		assert.WithinDuration(t, time.Now().Add(env.cfg.Session.RememberMeMaxAge), sess.ExpiresAt, 2*time.Second)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("ends the session and retires the token", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		ended, err := env.svc.Logout(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, ended)

		revoked, err := env.rev.IsRevoked(pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, revoked)

		_, err = env.svc.Rotate(ctx, pair.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("unknown token is not an error", func(t *testing.T) {
		env := newTestEnv(t)
		token, err := env.codec.IssueRefreshToken("u1", "u1@x.com", "GUEST")
		require.NoError(t, err)

		ended, err := env.svc.Logout(ctx, token)
		require.NoError(t, err)
		assert.False(t, ended)
	})

	t.Run("is idempotent", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		ended, err := env.svc.Logout(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, ended)

		ended, err = env.svc.Logout(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.False(t, ended)
	})

	t.Run("revocation store outage does not block logout", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewService(env.cfg, env.codec, env.ledger, failingRevocation{}, env.dir, nil, nil)
		id := guestIdentity()

		pair, err := svc.IssuePair(ctx, &id, defaultMeta())
		require.NoError(t, err)

		ended, err := svc.Logout(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, ended)

		live, err := env.ledger.IsRefreshTokenLive(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("ledger outage surfaces", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		env.breakLedger(t)

		_, err := env.svc.Logout(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestService_LogoutAll(t *testing.T) {
	ctx := context.Background()

	t.Run("ends every session of the user", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.set(adminIdentity())

		var guestPairs []*TokenPair
		for i := 0; i < 3; i++ {
			meta := defaultMeta()
			meta.DeviceID = fmt.Sprintf("dev-%d", i)
			guestPairs = append(guestPairs, env.login(t, guestIdentity(), meta))
		}
		adminPair := env.login(t, adminIdentity(), defaultMeta())

		count, err := env.svc.LogoutAll(ctx, testutils.TestUsers.Guest.UserID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		remaining, err := env.ledger.CountActiveForUser(ctx, testutils.TestUsers.Guest.UserID)
		require.NoError(t, err)
		assert.Zero(t, remaining)

		for _, pair := range guestPairs {
			_, err := env.svc.Rotate(ctx, pair.RefreshToken)
			assert.Error(t, err)

			revoked, err := env.rev.IsRevoked(pair.RefreshToken)
			require.NoError(t, err)
			assert.True(t, revoked)
		}

		// Another user's fleet is untouched.
		live, err := env.ledger.IsRefreshTokenLive(ctx, adminPair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, live)
	})

	t.Run("no sessions is a zero count", func(t *testing.T) {
		env := newTestEnv(t)

		count, err := env.svc.LogoutAll(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("ledger outage surfaces", func(t *testing.T) {
		env := newTestEnv(t)
		env.breakLedger(t)

		_, err := env.svc.LogoutAll(ctx, testutils.TestUsers.Guest.UserID)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestService_LogoutOthers(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps only the current session", func(t *testing.T) {
		env := newTestEnv(t)

		first := env.login(t, guestIdentity(), defaultMeta())
		current := env.login(t, guestIdentity(), defaultMeta())
		third := env.login(t, guestIdentity(), defaultMeta())

		count, err := env.svc.LogoutOthers(ctx, testutils.TestUsers.Guest.UserID, current.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		live, err := env.ledger.IsRefreshTokenLive(ctx, current.RefreshToken)
		require.NoError(t, err)
		assert.True(t, live)

		revoked, err := env.rev.IsRevoked(current.RefreshToken)
		require.NoError(t, err)
		assert.False(t, revoked)

		for _, pair := range []*TokenPair{first, third} {
			live, err := env.ledger.IsRefreshTokenLive(ctx, pair.RefreshToken)
			require.NoError(t, err)
			assert.False(t, live)

			revoked, err := env.rev.IsRevoked(pair.RefreshToken)
			require.NoError(t, err)
			assert.True(t, revoked)
		}

		// The survivor keeps rotating.
		_, err = env.svc.Rotate(ctx, current.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("single session is a zero count", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		count, err := env.svc.LogoutOthers(ctx, testutils.TestUsers.Guest.UserID, pair.RefreshToken)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestService_LogoutSession(t *testing.T) {
	ctx := context.Background()

	t.Run("ends the session by id", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		err := env.svc.LogoutSession(ctx, testutils.TestUsers.Guest.UserID, pair.SessionID)
		require.NoError(t, err)

		live, err := env.ledger.IsRefreshTokenLive(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.False(t, live)

		revoked, err := env.rev.IsRevoked(pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("cannot end another user's session", func(t *testing.T) {
		env := newTestEnv(t)
		pair := env.login(t, guestIdentity(), defaultMeta())

		err := env.svc.LogoutSession(ctx, "someone-else", pair.SessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		live, err := env.ledger.IsRefreshTokenLive(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.True(t, live)
	})

	t.Run("unknown session id", func(t *testing.T) {
		env := newTestEnv(t)

		err := env.svc.LogoutSession(ctx, testutils.TestUsers.Guest.UserID, 4242)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestService_ActiveSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("lists live sessions most recent first", func(t *testing.T) {
		env := newTestEnv(t)

		older := env.login(t, guestIdentity(), defaultMeta())
		time.Sleep(10 * time.Millisecond)
		newer := env.login(t, guestIdentity(), defaultMeta())

		sessions, err := env.svc.ActiveSessions(ctx, testutils.TestUsers.Guest.UserID, newer.RefreshToken)
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		assert.Equal(t, newer.SessionID, sessions[0].ID)
		assert.True(t, sessions[0].Current)
		assert.Equal(t, older.SessionID, sessions[1].ID)
		assert.False(t, sessions[1].Current)
	})

	t.Run("excludes ended sessions", func(t *testing.T) {
		env := newTestEnv(t)

		kept := env.login(t, guestIdentity(), defaultMeta())
		ended := env.login(t, guestIdentity(), defaultMeta())

		_, err := env.svc.Logout(ctx, ended.RefreshToken)
		require.NoError(t, err)

		sessions, err := env.svc.ActiveSessions(ctx, testutils.TestUsers.Guest.UserID, "")
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, kept.SessionID, sessions[0].ID)
	})

	t.Run("ledger outage surfaces", func(t *testing.T) {
		env := newTestEnv(t)
		env.breakLedger(t)

		_, err := env.svc.ActiveSessions(ctx, testutils.TestUsers.Guest.UserID, "")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestService_ValidateConfiguration(t *testing.T) {
	t.Run("accepts the test configuration", func(t *testing.T) {
		env := newTestEnv(t)
		assert.NoError(t, env.svc.ValidateConfiguration())
	})

	t.Run("rejects a weak signing secret", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.JWT.SecretKey = "short"
		assert.Error(t, env.svc.ValidateConfiguration())
	})
}

// The full arc of one login: issue, validate, rotate, validate again, and
// confirm the superseded token is dead.
func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	id := guestIdentity()

	pair, err := env.svc.IssuePair(ctx, &id, defaultMeta())
	require.NoError(t, err)

	claims, err := env.svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, claims.UserID)

	rotated, err := env.svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	claims, err = env.svc.ValidateAccess(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, claims.UserID)

	_, err = env.svc.Rotate(ctx, pair.RefreshToken)
	assert.Error(t, err, "superseded token must not rotate again")

	rotatedAgain, err := env.svc.Rotate(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, rotatedAgain.SessionID)

	ended, err := env.svc.Logout(ctx, rotatedAgain.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ended)

	remaining, err := env.ledger.CountActiveForUser(ctx, id.UserID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
