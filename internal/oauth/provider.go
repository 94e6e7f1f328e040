// Package oauth implements the authorization-code exchange with external
// identity providers: building the redirect URL, trading a code for a
// provider access token, and resolving the user's email.
package oauth

import (
	"errors"
	"fmt"
	"net/url"
)

var ErrUnsupportedProvider = errors.New("unsupported OAuth provider")

// Descriptor is the static endpoint configuration for one provider.
type Descriptor struct {
	AuthorizationURL string
	TokenURL         string
	UserinfoURL      string
	Scope            string
	JWKSURL          string // empty when the provider issues no id_token
}

// descriptors returns the built-in provider set. The microsoft endpoints are
// tenant-scoped; an empty tenant falls back to the multi-tenant "common".
func descriptors(tenantID string) map[string]Descriptor {
	if tenantID == "" {
		tenantID = "common"
	}
	msBase := "https://login.microsoftonline.com/" + tenantID
	return map[string]Descriptor{
		"github": {
			AuthorizationURL: "https://github.com/login/oauth/authorize",
			TokenURL:         "https://github.com/login/oauth/access_token",
			UserinfoURL:      "https://api.github.com/user",
			Scope:            "user:email",
		},
		"google": {
			AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:         "https://oauth2.googleapis.com/token",
			UserinfoURL:      "https://www.googleapis.com/oauth2/v2/userinfo",
			Scope:            "openid email profile",
			JWKSURL:          "https://www.googleapis.com/oauth2/v3/certs",
		},
		"microsoft": {
			AuthorizationURL: msBase + "/oauth2/v2.0/authorize",
			TokenURL:         msBase + "/oauth2/v2.0/token",
			UserinfoURL:      "https://graph.microsoft.com/v1.0/me",
			Scope:            "openid email profile User.Read",
			JWKSURL:          msBase + "/discovery/v2.0/keys",
		},
	}
}

// Descriptor resolves a provider name, defaulting to the configured provider
// when name is empty.
func (e *Exchanger) Descriptor(name string) (Descriptor, error) {
	if name == "" {
		name = e.defaultProvider
	}
	d, ok := e.providers[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return d, nil
}

// ProviderName resolves the effective provider name for a request.
func (e *Exchanger) ProviderName(name string) string {
	if name == "" {
		return e.defaultProvider
	}
	return name
}

// AuthorizationURL composes the provider redirect URL. Pure string
// composition; no network access.
func (e *Exchanger) AuthorizationURL(provider, redirectURI string) (string, error) {
	d, err := e.Descriptor(provider)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {e.clientID},
		"redirect_uri":  {redirectURI},
		"scope":         {d.Scope},
	}
	return d.AuthorizationURL + "?" + params.Encode(), nil
}
