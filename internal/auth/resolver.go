package auth

import (
	"log/slog"
)

// Resolver decides what kind of credential a bearer value is and produces a
// normalized Identity. Token verification runs first: it is self-contained
// and the more specific check. Only when it fails for any reason does the
// resolver fall back to the API-key table. This ordering is part of the
// contract for endpoints accepting both schemes.
type Resolver struct {
	codec  *Codec
	keys   *KeyStore
	logger *slog.Logger
}

// NewResolver creates a Resolver over the given codec and key store.
func NewResolver(codec *Codec, keys *KeyStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		codec:  codec,
		keys:   keys,
		logger: logger.With("component", "auth"),
	}
}

// Authenticate resolves a raw bearer credential to an Identity. Failures
// collapse to ErrInvalidCredential so callers never reveal which scheme the
// credential resembled; the internal log keeps the distinction.
func (r *Resolver) Authenticate(credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	claims, tokenErr := r.codec.Verify(credential)
	if tokenErr == nil {
		id := identityFromClaims(claims)
		r.logger.Info("authenticated", "subject", id.Subject, "auth_type", id.Kind, "provider", id.Provider)
		return id, nil
	}

	if entry, ok := r.keys.Lookup(credential); ok {
		id := &Identity{
			Subject: entry.Username,
			Kind:    KindAPIKey,
			Roles:   entry.Roles,
		}
		r.logger.Info("authenticated", "subject", id.Subject, "auth_type", id.Kind)
		return id, nil
	}

	r.logger.Debug("authentication failed", "token_error", tokenErr.Error())
	return nil, ErrInvalidCredential
}

// AuthenticateToken resolves a credential that must be a service-issued
// token; API keys are not consulted. Unlike Authenticate it preserves the
// expired/malformed distinction so OAuth-only endpoints can surface expiry.
func (r *Resolver) AuthenticateToken(credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	claims, err := r.codec.Verify(credential)
	if err != nil {
		r.logger.Debug("token authentication failed", "error", err.Error())
		return nil, err
	}

	id := identityFromClaims(claims)
	r.logger.Info("authenticated", "subject", id.Subject, "auth_type", id.Kind, "provider", id.Provider)
	return id, nil
}

func identityFromClaims(claims *Claims) *Identity {
	provider := claims.Provider
	if provider == "" {
		provider = "unknown"
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return &Identity{
		Subject:  claims.Subject,
		Kind:     KindOAuth,
		Roles:    roles,
		Provider: provider,
	}
}
