package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// verifierCache lazily builds one JWKS keyfunc per provider. Construction
// fetches the key set over the network, so it only happens the first time a
// provider returns an id_token.
type verifierCache struct {
	mu    sync.Mutex
	byURL map[string]keyfunc.Keyfunc
}

func (c *verifierCache) get(jwksURL string) (keyfunc.Keyfunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byURL == nil {
		c.byURL = make(map[string]keyfunc.Keyfunc)
	}
	if kf, ok := c.byURL[jwksURL]; ok {
		return kf, nil
	}

	kf, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	c.byURL[jwksURL] = kf
	return kf, nil
}

// verifyIDToken checks an id_token against the provider JWKS and returns its
// email claim. Providers without a JWKS URL never reach this path.
func (e *Exchanger) verifyIDToken(ctx context.Context, provider, idToken string) (string, error) {
	d, err := e.Descriptor(provider)
	if err != nil {
		return "", err
	}
	if d.JWKSURL == "" {
		return "", errors.New("provider has no JWKS endpoint")
	}

	kf, err := e.verifiers.get(d.JWKSURL)
	if err != nil {
		return "", err
	}

	token, err := jwt.Parse(idToken, kf.KeyfuncCtx(ctx),
		jwt.WithAudience(e.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse id_token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid id_token claims")
	}

	email, _ := claims["email"].(string)
	return email, nil
}
