package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stayloop/authkit/config"
)

// Config controls one rate-limited route. The zero value is usable;
// Middleware fills in defaults.
type Config struct {
	Store Store

	// Rate is the number of counted requests allowed per Period.
	Rate   int
	Period time.Duration

	// CountMode selects which requests consume budget: every request,
	// only failures, or only successes.
	CountMode config.CountingMode

	// KeyGenerator derives the bucket key for a request.
	KeyGenerator func(c echo.Context) string

	// OnLimitReached builds the response once the budget is spent.
	OnLimitReached func(c echo.Context) error
}

// Middleware enforces cfg. Buckets are keyed by cfg.KeyGenerator and expire
// Period after their first counted request.
//
// In the deferred counting modes a slot is reserved before the handler runs
// and released afterwards if the response turns out not to count, so a burst
// of in-flight requests cannot overshoot the budget.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}

	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	if cfg.CountMode == "" {
		cfg.CountMode = config.CountAll
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.KeyGenerator(c)

			count, resetTime, exists := cfg.Store.Get(key)
			if !exists {
				count = 0
				resetTime = time.Now().Add(cfg.Period)
			}

			if count >= cfg.Rate {
				setRateLimitHeaders(c, cfg.Rate, 0, resetTime)
				return cfg.OnLimitReached(c)
			}

			var newCount int
			if cfg.CountMode == config.CountAll {
				newCount = cfg.Store.Increment(key, resetTime)
			} else {
				newCount = count + 1
				cfg.Store.Set(key, newCount, resetTime)
			}

			// Headers must go out before the handler commits the response.
			setRateLimitHeaders(c, cfg.Rate, cfg.Rate-newCount, resetTime)

			err := next(c)

			if cfg.CountMode != config.CountAll && !countsToward(cfg.CountMode, responseStatus(c, err)) {
				if count > 0 {
					cfg.Store.Set(key, count, resetTime)
				} else {
					cfg.Store.Reset(key)
				}
			}

			return err
		}
	}
}

// WithConfig is Middleware with the shared store injected, letting callers
// describe routes declaratively while one store backs them all.
func WithConfig(store Store, cfg Config) echo.MiddlewareFunc {
	cfg.Store = store
	return Middleware(cfg)
}

// responseStatus resolves the status a request will be answered with. Errors
// returned by handlers are translated by echo's error handler after the
// middleware chain unwinds, so the response object alone is not enough.
func responseStatus(c echo.Context, err error) int {
	if err != nil {
		if httpErr, ok := err.(*echo.HTTPError); ok {
			return httpErr.Code
		}

		return http.StatusInternalServerError
	}

	return c.Response().Status
}

func countsToward(mode config.CountingMode, status int) bool {
	switch mode {
	case config.CountFailures:
		return status >= 400
	case config.CountSuccess:
		return status < 400
	default:
		return true
	}
}

func setRateLimitHeaders(c echo.Context, limit, remaining int, resetTime time.Time) {
	if remaining < 0 {
		remaining = 0
	}

	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}

// DefaultKeyGenerator buckets by client IP.
func DefaultKeyGenerator(c echo.Context) string {
	return "rate_limit:" + clientIP(c)
}

// RouteKeyGenerator buckets by client IP within a named route, so spending
// the login budget leaves the refresh budget untouched.
func RouteKeyGenerator(route string) func(c echo.Context) string {
	return func(c echo.Context) string {
		return "rate_limit:" + route + ":" + clientIP(c)
	}
}

// SecureKeyGenerator buckets by client IP plus a hash of the user agent,
// which separates distinct clients behind a shared NAT.
func SecureKeyGenerator(c echo.Context) string {
	return fmt.Sprintf("rate_limit:%s:%s", clientIP(c), simpleHash(c.Request().UserAgent()))
}

func clientIP(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" || ip == "unknown" {
		return "fallback"
	}

	return ip
}

func simpleHash(s string) string {
	if len(s) == 0 {
		return "none"
	}

	hash := uint32(0)
	for _, r := range s {
		hash = hash*31 + uint32(r)
	}

	return fmt.Sprintf("%x", hash%0xFFFFFF)
}

// DefaultOnLimitReached responds 429.
func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
}

// NewStore builds the store named by cfg.Store. Only the in-memory
// implementation ships today; unknown names fall back to it.
func NewStore(cfg *config.RateLimitConfig) Store {
	switch cfg.Store {
	case "memory":
		fallthrough
	default:
		return NewMemoryStore()
	}
}
