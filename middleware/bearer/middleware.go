package bearer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/stayloop/authkit/services/auth"
	"github.com/stayloop/authkit/services/tokens"
)

const (
	UserIDKey = "_auth_user_id"
	ClaimsKey = "_auth_claims"
)

// TokenValidator is the slice of the token lifecycle the guard needs.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (*tokens.Claims, error)
}

// RequireAccessToken rejects requests without a valid bearer access token
// and stores the verified claims on the echo context.
func RequireAccessToken(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := extractToken(c)
			if err != nil {
				return err
			}

			claims, err := validator.ValidateAccess(c.Request().Context(), token)
			if err != nil {
				return unauthorized(err)
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

// OptionalAccessToken attaches claims when a valid bearer token is present
// and lets the request through either way.
func OptionalAccessToken(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := extractToken(c)
			if err != nil {
				return next(c)
			}

			if claims, err := validator.ValidateAccess(c.Request().Context(), token); err == nil {
				c.Set(UserIDKey, claims.UserID)
				c.Set(ClaimsKey, claims)
			}

			return next(c)
		}
	}
}

func extractToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authorization header required")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "bearer authorization required")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "access token required")
	}

	return token, nil
}

func unauthorized(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, tokens.ErrExpiredToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "access token has expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
	case errors.Is(err, tokens.ErrMalformedToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "malformed access token")
	default:
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
	}
}

// GetUserID returns the authenticated user id, or "" outside a guarded route.
func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetClaims returns the verified claims, or nil outside a guarded route.
func GetClaims(c echo.Context) *tokens.Claims {
	if claims, ok := c.Get(ClaimsKey).(*tokens.Claims); ok {
		return claims
	}
	return nil
}
