package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("invalid token")
)

// Claims is the claim set encoded in calcd-issued tokens.
type Claims struct {
	Roles    []string `json:"roles,omitempty"`
	Provider string   `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 tokens signed with a process-wide secret.
// Verification is stateless: any replica holding the same secret can verify
// any issued token.
type Codec struct {
	secret     []byte
	defaultTTL time.Duration
}

// NewCodec creates a Codec. defaultTTL is used by IssueDefault.
func NewCodec(secret string, defaultTTL time.Duration) *Codec {
	return &Codec{secret: []byte(secret), defaultTTL: defaultTTL}
}

// Issue signs a token for subject expiring after ttl. Roles and provider are
// optional claims; pass nil/"" to omit them.
func (c *Codec) Issue(subject string, ttl time.Duration, roles []string, provider string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Roles:    roles,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// IssueDefault signs a token with the configured default lifetime.
func (c *Codec) IssueDefault(subject string, roles []string, provider string) (string, error) {
	return c.Issue(subject, c.defaultTTL, roles, provider)
}

// Verify checks the signature and expiry of a token and returns its claims.
// Expiry is reported only for tokens whose signature checks out; every other
// failure collapses to ErrTokenMalformed.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
