package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
)

// Server wraps echo with the kit's request logging, panic recovery and
// proxy-aware client IP extraction. Route registration happens through the
// verb helpers or the raw Echo instance.
type Server struct {
	echo   *echo.Echo
	config *config.Config
	logger *logging.Service
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	if logger != nil {
		e.Use(logging.RequestLogger(logger))
	}

	if len(cfg.Server.TrustedProxies) > 0 {
		e.IPExtractor = echo.ExtractIPFromXFFHeader(trustOptions(cfg.Server.TrustedProxies)...)
	}

	return &Server{
		echo:   e,
		config: cfg,
		logger: logger,
	}
}

// trustOptions parses proxy entries as CIDR ranges; bare addresses are
// treated as single-host ranges. Unparseable entries are skipped.
func trustOptions(proxies []string) []echo.TrustOption {
	opts := []echo.TrustOption{echo.TrustLoopback(true)}

	for _, proxy := range proxies {
		entry := strings.TrimSpace(proxy)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}

		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			opts = append(opts, echo.TrustIPRange(ipNet))
		}
	}

	return opts
}

// Start serves until Shutdown. A graceful shutdown is not an error.
func (s *Server) Start() {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)

	if s.logger != nil {
		s.logger.Info("starting http server", zap.String("addr", addr))
	}

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if s.logger != nil {
			s.logger.Fatal("http server failed", zap.Error(err))
		}
		panic(err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, m...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, m...)
}

func (s *Server) Put(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PUT(path, handler, m...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, m...)
}

func (s *Server) Use(m ...echo.MiddlewareFunc) {
	s.echo.Use(m...)
}

func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
