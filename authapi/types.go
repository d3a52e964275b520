package authapi

import "time"

type LoginRequest struct {
	Email      string `json:"email" example:"user@example.com"`
	Password   string `json:"password" example:"hunter2hunter2"`
	DeviceID   string `json:"device_id,omitempty" doc:"Stable client device identifier. Derived from request headers when omitted."`
	RememberMe bool   `json:"remember_me,omitempty" doc:"Extends the session's absolute lifetime."`
}

// TwoStepRequest exchanges the pending token from a password login for a
// real pair once the verification code checks out.
type TwoStepRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code" example:"123456"`
	DeviceID     string `json:"device_id,omitempty"`
	RememberMe   bool   `json:"remember_me,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty" doc:"Required for the current and others scopes."`
	Scope        string `json:"scope,omitempty" example:"current" doc:"One of current, others, all. Defaults to current."`
}

type ConfirmRequest struct {
	Code string `json:"code" example:"123456"`
}

type TokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type" example:"Bearer"`
	ExpiresIn        int    `json:"expires_in" doc:"Access token lifetime in seconds."`
	RefreshExpiresIn int    `json:"refresh_expires_in" doc:"Refresh token lifetime in seconds."`
	SessionID        uint   `json:"session_id,omitempty"`
}

// TwoStepResponse is returned instead of a pair when the account has
// two-step login enabled. The pending token proves the password check
// already passed.
type TwoStepResponse struct {
	TwoStepRequired bool   `json:"two_step_required"`
	PendingToken    string `json:"pending_token"`
	ExpiresIn       int    `json:"expires_in" doc:"Pending token lifetime in seconds."`
}

type LogoutResponse struct {
	SessionsEnded int64 `json:"sessions_ended"`
}

type SessionInfo struct {
	SessionID  uint           `json:"session_id"`
	DeviceID   string         `json:"device_id,omitempty"`
	DeviceInfo map[string]any `json:"device_info,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Remembered bool           `json:"remembered"`
	Current    bool           `json:"current" doc:"True for the session bound to the refresh token in X-Refresh-Token."`
	CreatedAt  time.Time      `json:"created_at"`
	LastUsed   time.Time      `json:"last_used"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type EnrollResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url" doc:"otpauth:// URI for authenticator apps."`
}

type TwoStepStatusResponse struct {
	Enabled bool `json:"enabled"`
}
