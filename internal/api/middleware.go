package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calcd-io/calcd/internal/auth"
	"github.com/calcd-io/calcd/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

func identityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}

// bearerCredential extracts the credential from an Authorization header.
// Returns "" when the header is absent or not a bearer-scheme value.
func bearerCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

// requireAuth resolves the bearer credential with the unified resolver
// (token first, API key fallback) and stores the identity in the request
// context. All failures are a generic 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := bearerCredential(r)
		if credential == "" {
			writeError(w, http.StatusUnauthorized, auth.ErrMissingCredential.Error())
			return
		}

		identity, err := s.resolver.Authenticate(credential)
		if err != nil {
			s.auditDenied(r.Context(), "auth.denied", "", "")
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredential.Error())
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireOAuth accepts only service-issued tokens. Expired tokens surface an
// explicit expiry message; API keys and garbage are rejected alike.
func (s *Server) requireOAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := bearerCredential(r)
		if credential == "" {
			writeError(w, http.StatusUnauthorized, auth.ErrMissingCredential.Error())
			return
		}

		identity, err := s.resolver.AuthenticateToken(credential)
		if err != nil {
			s.auditDenied(r.Context(), "auth.denied", "", "")
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, auth.ErrTokenExpired.Error())
				return
			}
			writeError(w, http.StatusUnauthorized, auth.ErrTokenMalformed.Error())
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles gates an already-authenticated request on the role set.
func (s *Server) requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := identityFromContext(r.Context())
			if identity == nil {
				writeError(w, http.StatusUnauthorized, auth.ErrMissingCredential.Error())
				return
			}
			if err := auth.Authorize(identity, roles...); err != nil {
				s.auditDenied(r.Context(), "auth.role_denied", identity.Subject, string(identity.Kind))
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditDenied records a denied decision. The raw credential is never stored.
func (s *Server) auditDenied(ctx context.Context, action, subject, authType string) {
	if err := s.store.LogAuthEvent(ctx, &store.AuthEvent{
		ID:        uuid.New().String(),
		Subject:   subject,
		AuthType:  authType,
		Action:    action,
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
