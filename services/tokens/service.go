package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken     = errors.New("invalid JWT token")
	ErrExpiredToken     = errors.New("JWT token has expired")
	ErrMalformedToken   = errors.New("malformed JWT token")
	ErrInvalidSignature = errors.New("invalid JWT token signature")
	ErrSecretMissing    = errors.New("JWT signing secret is not configured")
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypePending = "totp_pending"
)

// pendingExpiry bounds the window between password verification and the
// second login step.
const pendingExpiry = 10 * time.Minute

type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

// Service signs and verifies claim bundles. It is stateless and performs no
// I/O: revocation and session liveness are composed on top by the lifecycle
// service.
type Service struct {
	config *config.Config
	logger *logging.Service
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
	}
}

func (s *Service) AccessExpirySeconds() int {
	return int(s.config.JWT.AccessExpiry.Seconds())
}

func (s *Service) RefreshExpirySeconds() int {
	return int(s.config.JWT.RefreshExpiry.Seconds())
}

func (s *Service) PendingExpirySeconds() int {
	return int(pendingExpiry.Seconds())
}

func (s *Service) IssueAccessToken(userID, email, role string) (string, error) {
	return s.issue(TypeAccess, userID, email, role, s.config.JWT.SecretKey, s.config.JWT.AccessExpiry)
}

func (s *Service) IssueRefreshToken(userID, email, role string) (string, error) {
	return s.issue(TypeRefresh, userID, email, role, s.config.JWT.RefreshSecret(), s.config.JWT.RefreshExpiry)
}

// IssuePendingToken mints the short-lived credential handed out after a
// correct password when a second login step is still outstanding. It carries
// no email or role so it is useless as an access token even if mishandled.
func (s *Service) IssuePendingToken(userID string) (string, error) {
	return s.issue(TypePending, userID, "", "", s.config.JWT.SecretKey, pendingExpiry)
}

func (s *Service) issue(tokenType, userID, email, role, secret string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}

	now := time.Now()
	jti := uuid.New().String()
	claims := Claims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: tokenType,
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.JWT.Issuer,
			Subject:   userID,
			Audience:  []string{s.config.JWT.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to sign token", zap.String("token_type", tokenType), zap.Error(err))
		}
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.config.JWT.SecretKey, TypeAccess)
}

func (s *Service) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.config.JWT.RefreshSecret(), TypeRefresh)
}

func (s *Service) VerifyPending(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.config.JWT.SecretKey, TypePending)
}

func (s *Service) verify(tokenString, secret, wantType string) (*Claims, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() == "none" {
			return nil, errors.New("'none' algorithm is not allowed")
		}

		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: expected HS256, got %s", token.Method.Alg())
		}

		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}

		return []byte(secret), nil
	},
		jwt.WithIssuer(s.config.JWT.Issuer),
		jwt.WithAudience(s.config.JWT.Audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if s.logger != nil {
			s.logger.Warn("token verification failed", zap.String("want_type", wantType), zap.Error(err))
		}

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != wantType {
		if s.logger != nil {
			s.logger.Warn("token type mismatch",
				zap.String("want_type", wantType),
				zap.String("got_type", claims.TokenType))
		}
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Peek decodes claims without verifying the signature. Callers may use the
// result for expiry arithmetic and logging only, never for authorization.
func (s *Service) Peek(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, ErrMalformedToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrMalformedToken
	}

	return claims, nil
}
