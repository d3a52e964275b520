package authapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/middleware/bearer"
	"github.com/stayloop/authkit/services/auth"
	"github.com/stayloop/authkit/services/device"
	"github.com/stayloop/authkit/services/identity"
	"github.com/stayloop/authkit/services/logging"
	"github.com/stayloop/authkit/services/tokens"
	"github.com/stayloop/authkit/services/totp"
	"github.com/stayloop/authkit/session"
)

// Handler exposes the token lifecycle as a JSON API. It owns no policy:
// every decision is delegated to the lifecycle service and its
// collaborators, the handler only translates between HTTP and the error
// taxonomy.
type Handler struct {
	config    *config.Config
	auth      *auth.Service
	source    identity.Source
	directory identity.Directory
	totp      *totp.Service
	codec     *tokens.Service
	logger    *logging.Service
}

func NewHandler(
	cfg *config.Config,
	authSvc *auth.Service,
	source identity.Source,
	directory identity.Directory,
	totpSvc *totp.Service,
	codec *tokens.Service,
	logger *logging.Service,
) *Handler {
	return &Handler{
		config:    cfg,
		auth:      authSvc,
		source:    source,
		directory: directory,
		totp:      totpSvc,
		codec:     codec,
		logger:    logger,
	}
}

// Login verifies a password and returns a token pair, or a pending token
// when the account still owes a second step.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	ctx := c.Request().Context()
	id, err := h.source.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		}
		if h.logger != nil {
			h.logger.Error("identity source failure during login", zap.Error(err))
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
	}

	// Inactive accounts are rejected before the two-step gate so a
	// deactivated user cannot probe whether an enrollment exists.
	if !id.Active {
		return mapError(auth.ErrUserInactive)
	}

	if h.config.TOTP.Enabled && h.totp.IsEnrolled(ctx, id.UserID) {
		pending, err := h.codec.IssuePendingToken(id.UserID)
		if err != nil {
			if h.logger != nil {
				h.logger.Error("pending token issuance failed", zap.Error(err))
			}
			return mapError(err)
		}
		return c.JSON(http.StatusOK, TwoStepResponse{
			TwoStepRequired: true,
			PendingToken:    pending,
			ExpiresIn:       h.codec.PendingExpirySeconds(),
		})
	}

	pair, err := h.auth.IssuePair(ctx, id, h.loginMeta(c, req.DeviceID, req.RememberMe))
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, pairResponse(pair))
}

// TwoStep finishes a two-step login: pending token plus a fresh
// verification code buys the real pair.
func (h *Handler) TwoStep(c echo.Context) error {
	var req TwoStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PendingToken == "" || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pending_token and code are required")
	}

	claims, err := h.codec.VerifyPending(req.PendingToken)
	if err != nil {
		if errors.Is(err, tokens.ErrExpiredToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "pending token has expired")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid pending token")
	}

	ctx := c.Request().Context()
	if err := h.totp.VerifyCode(ctx, claims.UserID, req.Code); err != nil {
		return mapError(err)
	}

	// Fresh directory read: the pending token carries no email or role and
	// the account may have been deactivated since the password check.
	id, err := h.directory.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return mapError(auth.ErrUserInactive)
		}
		if h.logger != nil {
			h.logger.Error("user directory lookup failed", zap.Error(err))
		}
		return mapError(auth.ErrStoreUnavailable)
	}
	if !id.Active {
		return mapError(auth.ErrUserInactive)
	}

	pair, err := h.auth.IssuePair(ctx, id, h.loginMeta(c, req.DeviceID, req.RememberMe))
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, pairResponse(pair))
}

// Refresh rotates a refresh token for a fresh pair.
func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required")
	}

	pair, err := h.auth.Rotate(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, pairResponse(pair))
}

// Logout ends sessions for the authenticated user. The scope picks between
// the session bound to the presented refresh token (current), everything
// else (others) and the whole fleet (all).
func (h *Handler) Logout(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	userID := bearer.GetUserID(c)

	scope := req.Scope
	if scope == "" {
		scope = "current"
	}

	switch scope {
	case "current":
		if req.RefreshToken == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required for the current scope")
		}
		ended, err := h.auth.Logout(ctx, req.RefreshToken)
		if err != nil {
			return mapError(err)
		}
		var count int64
		if ended {
			count = 1
		}
		return c.JSON(http.StatusOK, LogoutResponse{SessionsEnded: count})

	case "others":
		if req.RefreshToken == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required for the others scope")
		}
		count, err := h.auth.LogoutOthers(ctx, userID, req.RefreshToken)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, LogoutResponse{SessionsEnded: count})

	case "all":
		count, err := h.auth.LogoutAll(ctx, userID)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, LogoutResponse{SessionsEnded: count})

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "scope must be one of current, others, all")
	}
}

// Sessions lists the caller's live sessions. When the X-Refresh-Token
// header carries the caller's refresh token, the matching session is
// flagged as current.
func (h *Handler) Sessions(c echo.Context) error {
	currentToken := c.Request().Header.Get("X-Refresh-Token")

	list, err := h.auth.ActiveSessions(c.Request().Context(), bearer.GetUserID(c), currentToken)
	if err != nil {
		return mapError(err)
	}

	resp := SessionListResponse{Sessions: make([]SessionInfo, 0, len(list))}
	for i := range list {
		resp.Sessions = append(resp.Sessions, sessionInfo(&list[i]))
	}

	return c.JSON(http.StatusOK, resp)
}

// DeleteSession ends one of the caller's sessions by id.
func (h *Handler) DeleteSession(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session id must be numeric")
	}

	if err := h.auth.LogoutSession(c.Request().Context(), bearer.GetUserID(c), uint(id)); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return mapError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// EnrollTwoStep creates an unconfirmed authenticator enrollment for the
// caller and returns the secret exactly once.
func (h *Handler) EnrollTwoStep(c echo.Context) error {
	claims := bearer.GetClaims(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "access token required")
	}

	account := claims.Email
	if account == "" {
		account = claims.UserID
	}

	enrollment, err := h.totp.Enroll(c.Request().Context(), claims.UserID, account)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, EnrollResponse{
		Secret:     enrollment.Secret,
		OtpauthURL: h.totp.ProvisioningURI(enrollment, account),
	})
}

// ConfirmTwoStep proves possession of the authenticator and switches the
// enrollment on.
func (h *Handler) ConfirmTwoStep(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	if err := h.totp.Confirm(c.Request().Context(), bearer.GetUserID(c), req.Code); err != nil {
		return mapError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// DisableTwoStep drops the caller's enrollment.
func (h *Handler) DisableTwoStep(c echo.Context) error {
	if err := h.totp.Disable(c.Request().Context(), bearer.GetUserID(c)); err != nil {
		return mapError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// TwoStepStatus reports whether the caller has a confirmed enrollment.
func (h *Handler) TwoStepStatus(c echo.Context) error {
	enrolled := h.totp.IsEnrolled(c.Request().Context(), bearer.GetUserID(c))
	return c.JSON(http.StatusOK, TwoStepStatusResponse{Enabled: enrolled})
}

func (h *Handler) loginMeta(c echo.Context, deviceID string, rememberMe bool) auth.LoginMeta {
	ua := c.Request().UserAgent()
	if deviceID == "" {
		deviceID = device.Fingerprint(ua, c.Request().Header.Get("Accept-Language"), "")
	}

	return auth.LoginMeta{
		DeviceID:   deviceID,
		DeviceInfo: device.Profile(ua),
		IPAddress:  c.RealIP(),
		UserAgent:  ua,
		RememberMe: rememberMe,
	}
}

func pairResponse(pair *auth.TokenPair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        pair.ExpiresIn,
		RefreshExpiresIn: pair.RefreshExpiresIn,
		SessionID:        pair.SessionID,
	}
}

func sessionInfo(s *session.Session) SessionInfo {
	info := SessionInfo{
		SessionID:  s.ID,
		DeviceID:   s.DeviceID,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		Remembered: s.Remembered,
		Current:    s.Current,
		CreatedAt:  s.CreatedAt,
		LastUsed:   s.LastUsed,
		ExpiresAt:  s.ExpiresAt,
	}

	if s.DeviceInfo != "" {
		var details map[string]any
		if err := json.Unmarshal([]byte(s.DeviceInfo), &details); err == nil {
			info.DeviceInfo = details
		}
	}

	return info
}

// mapError translates lifecycle and two-step sentinels into transport
// errors. Unrecognized errors become a plain 500 so infrastructure
// failures never read as authentication decisions.
func mapError(err error) error {
	switch {
	case errors.Is(err, auth.ErrRefreshTokenExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token has expired")
	case errors.Is(err, auth.ErrRefreshTokenInvalid):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrTokenRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
	case errors.Is(err, auth.ErrSessionNotFound):
		// Indistinguishable from revocation to the caller: the lineage is
		// dead either way.
		return echo.NewHTTPError(http.StatusUnauthorized, "session ended elsewhere")
	case errors.Is(err, auth.ErrMFARequired):
		return echo.NewHTTPError(http.StatusUnauthorized, "two-step verification required")
	case errors.Is(err, auth.ErrUserInactive):
		return echo.NewHTTPError(http.StatusForbidden, "account is inactive")
	case errors.Is(err, auth.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
	case errors.Is(err, tokens.ErrExpiredToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
	case errors.Is(err, tokens.ErrMalformedToken), errors.Is(err, tokens.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	case errors.Is(err, totp.ErrInvalidCode):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid verification code")
	case errors.Is(err, totp.ErrCodeAlreadyUsed):
		return echo.NewHTTPError(http.StatusUnauthorized, "verification code already used")
	case errors.Is(err, totp.ErrAlreadyEnrolled):
		return echo.NewHTTPError(http.StatusConflict, "two-step login already enrolled")
	case errors.Is(err, totp.ErrNotEnrolled):
		return echo.NewHTTPError(http.StatusNotFound, "two-step login not enrolled")
	case errors.Is(err, totp.ErrDisabled):
		return echo.NewHTTPError(http.StatusNotFound, "two-step login is disabled")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
