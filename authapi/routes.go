package authapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/middleware/bearer"
	"github.com/stayloop/authkit/middleware/ratelimit"
	"github.com/stayloop/authkit/openapi"
	"github.com/stayloop/authkit/server"
)

// RegisterRoutes mounts the auth surface and declares each route in the
// OpenAPI document as it goes, so the published spec cannot drift from the
// routing table.
func RegisterRoutes(srv *server.Server, h *Handler, store ratelimit.Store, doc *openapi.Document, cfg *config.Config) {
	guard := bearer.RequireAccessToken(h.auth)

	var loginLimit, totpLimit, refreshLimit []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		// Login and the two-step exchange count failures only: a correct
		// credential never spends budget. Refresh counts every attempt.
		loginLimit = append(loginLimit, ratelimit.WithConfig(store, ratelimit.Config{
			Rate:         cfg.RateLimit.LoginRate,
			Period:       cfg.RateLimit.LoginPeriod,
			CountMode:    config.CountFailures,
			KeyGenerator: ratelimit.RouteKeyGenerator("login"),
		}))
		totpLimit = append(totpLimit, ratelimit.WithConfig(store, ratelimit.Config{
			Rate:         cfg.RateLimit.LoginRate,
			Period:       cfg.RateLimit.LoginPeriod,
			CountMode:    config.CountFailures,
			KeyGenerator: ratelimit.RouteKeyGenerator("totp"),
		}))
		refreshLimit = append(refreshLimit, ratelimit.WithConfig(store, ratelimit.Config{
			Rate:         cfg.RateLimit.RefreshRate,
			Period:       cfg.RateLimit.RefreshPeriod,
			CountMode:    config.CountAll,
			KeyGenerator: ratelimit.RouteKeyGenerator("refresh"),
		}))
	}

	srv.Post("/auth/login", h.Login, loginLimit...)
	doc.Route(http.MethodPost, "/auth/login").
		Summary("Password login").
		OperationID("login").
		Tags("auth").
		Body(LoginRequest{}, "Credentials and optional device metadata").
		Response(http.StatusOK, TokenPairResponse{}, "Token pair, or a pending token when two-step login is enabled").
		Response(http.StatusUnauthorized, nil, "Invalid credentials").
		Response(http.StatusForbidden, nil, "Account inactive").
		ResponseHeader(http.StatusOK, "X-RateLimit-Remaining", "Login attempts left in the window").
		NoSecurity().
		Build()

	srv.Post("/auth/totp", h.TwoStep, totpLimit...)
	doc.Route(http.MethodPost, "/auth/totp").
		Summary("Finish two-step login").
		OperationID("twoStepLogin").
		Tags("auth", "two-step").
		Body(TwoStepRequest{}, "Pending token from login plus a verification code").
		Response(http.StatusOK, TokenPairResponse{}, "Token pair").
		Response(http.StatusUnauthorized, nil, "Expired pending token or bad code").
		NoSecurity().
		Build()

	srv.Post("/auth/refresh", h.Refresh, refreshLimit...)
	doc.Route(http.MethodPost, "/auth/refresh").
		Summary("Rotate a refresh token").
		Description("Exchanges a live refresh token for a fresh pair. The presented token is retired; reusing it fails.").
		OperationID("refresh").
		Tags("auth").
		Body(RefreshRequest{}, "The refresh token to rotate").
		Response(http.StatusOK, TokenPairResponse{}, "Fresh token pair").
		Response(http.StatusUnauthorized, nil, "Expired, revoked or already-rotated token").
		NoSecurity().
		Build()

	srv.Post("/auth/logout", h.Logout, guard)
	doc.Route(http.MethodPost, "/auth/logout").
		Summary("End sessions").
		OperationID("logout").
		Tags("auth", "sessions").
		Body(LogoutRequest{}, "Scope and, for current/others, the caller's refresh token").
		Response(http.StatusOK, LogoutResponse{}, "Number of sessions ended").
		Security("bearerAuth").
		Build()

	srv.Get("/auth/sessions", h.Sessions, guard)
	doc.Route(http.MethodGet, "/auth/sessions").
		Summary("List live sessions").
		OperationID("listSessions").
		Tags("sessions").
		Response(http.StatusOK, SessionListResponse{}, "Live sessions, newest first").
		Security("bearerAuth").
		Build()

	srv.Delete("/auth/sessions/:id", h.DeleteSession, guard)
	doc.Route(http.MethodDelete, "/auth/sessions/:id").
		Summary("End one session by id").
		OperationID("deleteSession").
		Tags("sessions").
		PathParam("id", "integer", "Session ledger id").
		Response(http.StatusNoContent, nil, "Session ended").
		Response(http.StatusNotFound, nil, "No such live session for this user").
		Security("bearerAuth").
		Build()

	srv.Get("/auth/totp", h.TwoStepStatus, guard)
	doc.Route(http.MethodGet, "/auth/totp").
		Summary("Two-step enrollment status").
		OperationID("twoStepStatus").
		Tags("two-step").
		Response(http.StatusOK, TwoStepStatusResponse{}, "Whether a confirmed enrollment exists").
		Security("bearerAuth").
		Build()

	srv.Post("/auth/totp/enroll", h.EnrollTwoStep, guard)
	doc.Route(http.MethodPost, "/auth/totp/enroll").
		Summary("Enroll an authenticator").
		Description("Returns the shared secret exactly once. The enrollment stays off until confirmed with a first code.").
		OperationID("twoStepEnroll").
		Tags("two-step").
		Response(http.StatusOK, EnrollResponse{}, "Secret and provisioning URI").
		Response(http.StatusConflict, nil, "Already enrolled").
		Security("bearerAuth").
		Build()

	srv.Post("/auth/totp/confirm", h.ConfirmTwoStep, guard)
	doc.Route(http.MethodPost, "/auth/totp/confirm").
		Summary("Confirm an enrollment").
		OperationID("twoStepConfirm").
		Tags("two-step").
		Body(ConfirmRequest{}, "First code from the authenticator").
		Response(http.StatusNoContent, nil, "Enrollment confirmed").
		Response(http.StatusUnauthorized, nil, "Bad code").
		Security("bearerAuth").
		Build()

	srv.Delete("/auth/totp", h.DisableTwoStep, guard)
	doc.Route(http.MethodDelete, "/auth/totp").
		Summary("Disable two-step login").
		OperationID("twoStepDisable").
		Tags("two-step").
		Response(http.StatusNoContent, nil, "Enrollment removed").
		Response(http.StatusNotFound, nil, "Not enrolled").
		Security("bearerAuth").
		Build()

	srv.Get("/openapi.json", doc.JSONHandler())
	srv.Get("/openapi.yaml", doc.YAMLHandler())
	srv.Get("/docs", doc.DocsHandler("/openapi.json"))
}
