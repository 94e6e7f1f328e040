// Package api provides the HTTP API and middleware for calcd.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/calcd-io/calcd/internal/auth"
	"github.com/calcd-io/calcd/internal/config"
	"github.com/calcd-io/calcd/internal/mathops"
	"github.com/calcd-io/calcd/internal/oauth"
	"github.com/calcd-io/calcd/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	resolver     *auth.Resolver
	codec        *auth.Codec
	exchanger    *oauth.Exchanger
	store        store.Store
	logger       *slog.Logger
	mux          *chi.Mux
	stage        string
	maxBodyBytes int64
	oauthRL      *rateLimiter
	rl           *rateLimiter
	startTime    time.Time
}

// NewServer creates a new API server and wires up all routes.
func NewServer(resolver *auth.Resolver, codec *auth.Codec, exchanger *oauth.Exchanger, st store.Store, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		resolver:     resolver,
		codec:        codec,
		exchanger:    exchanger,
		store:        st,
		logger:       logger.With("component", "api"),
		stage:        cfg.Stage,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		startTime:    time.Now(),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// OAuth flow endpoints (unauthenticated, rate-limited by IP).
	srv.oauthRL = newRateLimiter(5, 10)
	mux.Get("/auth/oauth/provider", srv.handleOAuthProvider)
	mux.With(ipRateLimitMiddleware(srv.oauthRL)).Post("/auth/oauth/authorize", srv.handleOAuthAuthorize)
	mux.With(ipRateLimitMiddleware(srv.oauthRL)).Post("/auth/oauth/token", srv.handleOAuthToken)

	// Unified endpoints: token or API key, any role.
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.requireAuth)
		r.Use(subjectRateLimitMiddleware(srv.rl))

		r.Get("/me", srv.handleMe)
		r.Post("/api/add", srv.mathHandler("add", true))
		r.Post("/api/subtract", srv.mathHandler("subtract", true))
		r.Post("/api/multiply", srv.mathHandler("multiply", true))
		r.Post("/api/divide", srv.mathHandler("divide", true))

		// Admin-gated endpoints.
		r.Group(func(r chi.Router) {
			r.Use(srv.requireRoles("admin"))
			r.Post("/math/add", srv.mathHandler("add", false))
			r.Post("/math/subtract", srv.mathHandler("subtract", false))
			r.Post("/math/multiply", srv.mathHandler("multiply", false))
			r.Post("/math/divide", srv.mathHandler("divide", false))
			r.Post("/example", srv.handleExample)
			r.Get("/admin/audit", srv.handleListAuditEvents)
		})

		// User-or-admin test endpoint, not exposed in production.
		if cfg.Stage != "production" {
			r.With(srv.requireRoles("admin", "user")).Post("/example_test", srv.handleExampleTest)
		}
	})

	// OAuth-token-only endpoints: API keys are rejected here.
	mux.Group(func(r chi.Router) {
		r.Use(srv.requireOAuth)
		r.Use(subjectRateLimitMiddleware(srv.rl))
		r.Post("/oauth/add", srv.mathHandler("add", false))
		r.Post("/oauth/subtract", srv.mathHandler("subtract", false))
		r.Post("/oauth/multiply", srv.mathHandler("multiply", false))
		r.Post("/oauth/divide", srv.mathHandler("divide", false))
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.oauthRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// --- OAuth flow handlers ---

func (s *Server) handleOAuthProvider(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.exchanger.ProviderName("")})
}

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Provider    string `json:"provider"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RedirectURI == "" {
		writeError(w, http.StatusBadRequest, "redirect_uri is required")
		return
	}

	authURL, err := s.exchanger.AuthorizationURL(req.Provider, req.RedirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("generated authorization URL", "provider", s.exchanger.ProviderName(req.Provider))
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Provider    string `json:"provider"`
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	provider := s.exchanger.ProviderName(req.Provider)

	tokens, err := s.exchanger.ExchangeCode(r.Context(), req.Provider, req.Code, req.RedirectURI)
	if err != nil {
		s.oauthFlowError(w, r, provider, err)
		return
	}

	email, err := s.exchanger.UserEmail(r.Context(), req.Provider, tokens)
	if err != nil {
		s.oauthFlowError(w, r, provider, err)
		return
	}

	// Exchange-issued tokens carry the admin role, though the role gate
	// ignores roles on OAuth identities.
	accessToken, err := s.codec.IssueDefault(email, []string{"admin"}, provider)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	s.audit(r.Context(), &store.AuthEvent{
		Subject:  email,
		AuthType: string(auth.KindOAuth),
		Action:   "oauth.exchange",
		Detail:   provider,
	})
	s.logger.Info("oauth exchange succeeded", "subject", email, "provider", provider)

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": accessToken,
		"token_type":   "bearer",
	})
}

// oauthFlowError maps exchange-flow failures to client errors. The remote
// authorization server is uncontrolled; its failures are never retried.
func (s *Server) oauthFlowError(w http.ResponseWriter, r *http.Request, provider string, err error) {
	s.audit(r.Context(), &store.AuthEvent{
		Action: "oauth.exchange_failed",
		Detail: provider,
	})
	switch {
	case errors.Is(err, oauth.ErrUnsupportedProvider),
		errors.Is(err, oauth.ErrExchangeFailed),
		errors.Is(err, oauth.ErrProfileFailed):
		s.logger.Warn("oauth flow failed", "provider", provider, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("oauth flow failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "oauth flow failed")
	}
}

// --- Math handlers ---

type inputData struct {
	A float64 `json:"A"`
	B float64 `json:"B"`
}

// mathHandler builds a handler for one arithmetic operation. When echo is
// set, the response includes the caller's identity, mirroring the unified
// endpoints' behavior.
func (s *Server) mathHandler(op string, echo bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		var in inputData
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		identity := identityFromContext(r.Context())
		s.logger.Debug("math operation requested", "operation", op, "subject", identity.Subject)

		var result float64
		switch op {
		case "add":
			result = mathops.Add(in.A, in.B)
		case "subtract":
			result = mathops.Subtract(in.A, in.B)
		case "multiply":
			result = mathops.Multiply(in.A, in.B)
		case "divide":
			var err error
			result, err = mathops.Divide(in.A, in.B)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}

		resp := map[string]any{
			"operation": op,
			"a":         in.A,
			"b":         in.B,
			"result":    result,
		}
		if echo {
			resp["user"] = identity.Subject
			resp["auth_type"] = identity.Kind
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// --- Misc handlers ---

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFromContext(r.Context()))
}

func (s *Server) handleExample(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var in inputData
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": mathops.Add(in.A, in.B)})
}

func (s *Server) handleExampleTest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var in inputData
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": 4})
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListAuthEvents(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.AuthEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// audit records an auth decision, filling in the event ID and timestamp.
func (s *Server) audit(ctx context.Context, ev *store.AuthEvent) {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now()
	if err := s.store.LogAuthEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to log audit event", "action", ev.Action, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
