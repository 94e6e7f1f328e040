// Package auth provides credential resolution and role-based authorization
// for calcd. A bearer credential is either a service-issued token or a static
// API key; both resolve to the same Identity shape.
package auth

import "errors"

var (
	ErrMissingCredential = errors.New("invalid or missing authorization header")
	ErrInvalidCredential = errors.New("invalid authentication credentials")
	ErrInsufficientRole  = errors.New("user does not have required role")
)

// Kind identifies which credential scheme produced an Identity.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
)

// Identity is the normalized result of a successful authentication. It is
// built fresh per request and never persisted.
type Identity struct {
	Subject  string   `json:"sub"`
	Kind     Kind     `json:"auth_type"`
	Roles    []string `json:"roles,omitempty"`
	Provider string   `json:"provider,omitempty"` // OAuth identities only
}

// HasRole reports whether the identity carries the given role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize checks an identity against a set of required roles. An empty
// requirement admits any authenticated identity. OAuth identities carry no
// role semantics and pass every check; API-key identities must hold at least
// one of the required roles.
func Authorize(id *Identity, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	if id.Kind == KindOAuth {
		return nil
	}
	for _, role := range required {
		if id.HasRole(role) {
			return nil
		}
	}
	return ErrInsufficientRole
}
