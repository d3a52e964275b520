package e2etesting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/identity"
)

// AuthHelper creates users through the bundled identity store and drives the
// auth endpoints as a client.
type AuthHelper struct {
	HTTPClient *HTTPClient
	DB         *gorm.DB
	Identity   *identity.LocalService
}

type TestUser struct {
	ID       string
	Email    string
	Password string
	Role     string
}

func NewAuthHelper(httpClient *HTTPClient, db *gorm.DB, cfg *config.Config) *AuthHelper {
	return &AuthHelper{
		HTTPClient: httpClient,
		DB:         db,
		Identity:   identity.NewLocalService(cfg, db, nil),
	}
}

func (h *AuthHelper) CreateTestUser(t *testing.T, user *TestUser) {
	t.Helper()

	id, err := h.Identity.Register(context.Background(), user.Email, user.Password, user.Role)
	require.NoError(t, err, "failed to create test user")

	user.ID = id.UserID
	user.Role = id.Role
}

// DeactivateUser flips the account off; the next rotation for any of its
// sessions must fail.
func (h *AuthHelper) DeactivateUser(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, h.Identity.SetActive(context.Background(), userID, false))
}

type loginPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

func (h *AuthHelper) Login(email, password string) (*Response, error) {
	return h.HTTPClient.Post("/auth/login", loginPayload{Email: email, Password: password})
}

func (h *AuthHelper) LoginWithDevice(email, password, deviceID string) (*Response, error) {
	return h.HTTPClient.Post("/auth/login", loginPayload{Email: email, Password: password, DeviceID: deviceID})
}

func (h *AuthHelper) LoginWithRememberMe(email, password string) (*Response, error) {
	return h.HTTPClient.Post("/auth/login", loginPayload{Email: email, Password: password, RememberMe: true})
}

func (h *AuthHelper) Refresh(refreshToken string) (*Response, error) {
	return h.HTTPClient.Post("/auth/refresh", map[string]string{"refresh_token": refreshToken})
}

// Logout ends sessions in the given scope (current, others, all) using the
// access token for the guard and the refresh token to pick the session.
func (h *AuthHelper) Logout(accessToken, refreshToken, scope string) (*Response, error) {
	body := map[string]string{"scope": scope}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	return h.HTTPClient.WithBearer(accessToken).Post("/auth/logout", body)
}

// TokenPair is the decoded body of a successful login or refresh.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	SessionID        uint   `json:"session_id"`
}

// MustLogin logs in and fails the test on anything but a token pair.
func (h *AuthHelper) MustLogin(t *testing.T, email, password string) *TokenPair {
	t.Helper()

	resp, err := h.Login(email, password)
	require.NoError(t, err, "login request failed")
	resp.AssertStatus(t, 200)

	return h.decodePair(t, resp)
}

func (h *AuthHelper) MustRefresh(t *testing.T, refreshToken string) *TokenPair {
	t.Helper()

	resp, err := h.Refresh(refreshToken)
	require.NoError(t, err, "refresh request failed")
	resp.AssertStatus(t, 200)

	return h.decodePair(t, resp)
}

func (h *AuthHelper) decodePair(t *testing.T, resp *Response) *TokenPair {
	t.Helper()

	var pair TokenPair
	require.NoError(t, resp.GetJSON(&pair))
	require.NotEmpty(t, pair.AccessToken, "response should carry an access token")
	require.NotEmpty(t, pair.RefreshToken, "response should carry a refresh token")
	return &pair
}

// EnableTOTPForUser plants a confirmed enrollment with a known secret so
// tests can mint codes locally.
func (h *AuthHelper) EnableTOTPForUser(t *testing.T, userID, secret string) {
	t.Helper()

	err := h.DB.Table("auth_totp_secrets").Create(map[string]any{
		"user_id": userID,
		"secret":  secret,
		"enabled": true,
	}).Error
	require.NoError(t, err, "failed to enable TOTP for test user")
}

func (h *AuthHelper) CleanAuthTables() error {
	for _, table := range []string{"auth_users", "auth_sessions", "auth_totp_secrets", "auth_totp_used_codes"} {
		if err := h.DB.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}
