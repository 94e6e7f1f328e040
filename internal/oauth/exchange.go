package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrProfileFailed  = errors.New("could not fetch user profile")
)

// maxResponseSize bounds provider responses; token and userinfo payloads are
// small, anything larger is garbage.
const maxResponseSize = 1 << 20

// Config carries the process-wide OAuth client settings.
type Config struct {
	DefaultProvider string
	ClientID        string
	ClientSecret    string
	TenantID        string
}

// Tokens is the useful subset of a provider token response.
type Tokens struct {
	AccessToken string
	IDToken     string
}

// Exchanger performs the outbound calls of the authorization-code flow.
// Every failure is terminal for the current flow; no retries are attempted.
type Exchanger struct {
	defaultProvider string
	clientID        string
	clientSecret    string
	providers       map[string]Descriptor
	httpClient      *http.Client
	logger          *slog.Logger

	verifiers verifierCache
}

// Option configures an Exchanger.
type Option func(*Exchanger)

// WithHTTPClient sets a custom HTTP client for outbound provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exchanger) {
		e.httpClient = client
	}
}

// WithProvider adds or replaces a provider descriptor. Used by tests to
// point a built-in name at a local server.
func WithProvider(name string, d Descriptor) Option {
	return func(e *Exchanger) {
		e.providers[name] = d
	}
}

// New creates an Exchanger from config.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Exchanger {
	e := &Exchanger{
		defaultProvider: cfg.DefaultProvider,
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		providers:       descriptors(cfg.TenantID),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger.With("component", "oauth"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExchangeCode trades an authorization code for provider tokens with a single
// form-encoded POST to the token endpoint.
func (e *Exchanger) ExchangeCode(ctx context.Context, provider, code, redirectURI string) (Tokens, error) {
	d, err := e.Descriptor(provider)
	if err != nil {
		return Tokens{}, err
	}
	if code == "" {
		return Tokens{}, fmt.Errorf("%w: empty authorization code", ErrExchangeFailed)
	}

	params := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {e.clientID},
		"client_secret": {e.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := e.do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if status < 200 || status >= 300 {
		e.logger.Warn("token endpoint returned error", "provider", e.ProviderName(provider), "status", status)
		return Tokens{}, fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailed, status)
	}

	accessToken := gjson.GetBytes(body, "access_token").Str
	if accessToken == "" {
		return Tokens{}, fmt.Errorf("%w: response missing access_token", ErrExchangeFailed)
	}

	return Tokens{
		AccessToken: accessToken,
		IDToken:     gjson.GetBytes(body, "id_token").Str,
	}, nil
}

// FetchProfile retrieves the user's email from the provider userinfo
// endpoint, accepting either an "email" or "mail" field (the Microsoft graph
// uses the latter).
func (e *Exchanger) FetchProfile(ctx context.Context, provider, accessToken string) (string, error) {
	d, err := e.Descriptor(provider)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.UserinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := e.do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	if status < 200 || status >= 300 {
		e.logger.Warn("userinfo endpoint returned error", "provider", e.ProviderName(provider), "status", status)
		return "", fmt.Errorf("%w: userinfo endpoint returned %d", ErrProfileFailed, status)
	}

	email := gjson.GetBytes(body, "email").Str
	if email == "" {
		email = gjson.GetBytes(body, "mail").Str
	}
	if email == "" {
		return "", fmt.Errorf("%w: no email in userinfo response", ErrProfileFailed)
	}
	return email, nil
}

// UserEmail resolves the authenticated user's email from an exchange result.
// A verified id_token is preferred; otherwise the userinfo endpoint is
// consulted. An id_token that fails verification is ignored, not fatal: the
// userinfo call remains authoritative.
func (e *Exchanger) UserEmail(ctx context.Context, provider string, tokens Tokens) (string, error) {
	if tokens.IDToken != "" {
		email, err := e.verifyIDToken(ctx, provider, tokens.IDToken)
		if err == nil && email != "" {
			return email, nil
		}
		if err != nil {
			e.logger.Warn("id_token verification failed, falling back to userinfo",
				"provider", e.ProviderName(provider), "error", err)
		}
	}
	return e.FetchProfile(ctx, provider, tokens.AccessToken)
}

func (e *Exchanger) do(req *http.Request) ([]byte, int, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
