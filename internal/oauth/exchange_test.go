package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestExchanger(t *testing.T, opts ...Option) *Exchanger {
	t.Helper()
	cfg := Config{
		DefaultProvider: "github",
		ClientID:        "test-client-id",
		ClientSecret:    "test-client-secret",
	}
	return New(cfg, slog.Default(), opts...)
}

func TestAuthorizationURL(t *testing.T) {
	e := newTestExchanger(t)

	raw, err := e.AuthorizationURL("github", "http://localhost:3000/callback")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if u.Host != "github.com" {
		t.Errorf("host: got %q", u.Host)
	}

	q := u.Query()
	if q.Get("response_type") != "code" {
		t.Errorf("response_type: got %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("client_id: got %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "http://localhost:3000/callback" {
		t.Errorf("redirect_uri: got %q", q.Get("redirect_uri"))
	}
	if q.Get("scope") != "user:email" {
		t.Errorf("scope: got %q", q.Get("scope"))
	}
}

func TestAuthorizationURLDefaultProvider(t *testing.T) {
	e := newTestExchanger(t)

	raw, err := e.AuthorizationURL("", "http://localhost/cb")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	if !strings.HasPrefix(raw, "https://github.com/") {
		t.Errorf("empty provider should use the default, got %q", raw)
	}
}

func TestAuthorizationURLUnsupportedProvider(t *testing.T) {
	e := newTestExchanger(t)

	_, err := e.AuthorizationURL("yahoo", "http://localhost/cb")
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("got %v, want ErrUnsupportedProvider", err)
	}
}

func TestMicrosoftTenantEndpoints(t *testing.T) {
	e := New(Config{
		DefaultProvider: "microsoft",
		ClientID:        "cid",
		TenantID:        "my-tenant",
	}, slog.Default())

	d, err := e.Descriptor("microsoft")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(d.TokenURL, "/my-tenant/") {
		t.Errorf("token URL not tenant-scoped: %q", d.TokenURL)
	}
}

func TestExchangeCode(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "provider-token", "token_type": "bearer"}`))
	}))
	defer ts.Close()

	e := newTestExchanger(t, WithProvider("github", Descriptor{
		TokenURL:    ts.URL,
		UserinfoURL: ts.URL + "/user",
	}))

	tokens, err := e.ExchangeCode(context.Background(), "github", "the-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tokens.AccessToken != "provider-token" {
		t.Errorf("AccessToken: got %q", tokens.AccessToken)
	}

	if gotForm.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type: got %q", gotForm.Get("grant_type"))
	}
	if gotForm.Get("code") != "the-code" {
		t.Errorf("code: got %q", gotForm.Get("code"))
	}
	if gotForm.Get("client_secret") != "test-client-secret" {
		t.Errorf("client_secret: got %q", gotForm.Get("client_secret"))
	}
	if gotForm.Get("redirect_uri") != "http://localhost/cb" {
		t.Errorf("redirect_uri: got %q", gotForm.Get("redirect_uri"))
	}
}

func TestExchangeCodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"error status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": "bad_verification_code"}`, http.StatusBadRequest)
		}},
		{"missing access token", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token_type": "bearer"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			e := newTestExchanger(t, WithProvider("github", Descriptor{TokenURL: ts.URL}))
			_, err := e.ExchangeCode(context.Background(), "github", "code", "http://localhost/cb")
			if !errors.Is(err, ErrExchangeFailed) {
				t.Errorf("got %v, want ErrExchangeFailed", err)
			}
		})
	}
}

func TestExchangeCodeEmptyCode(t *testing.T) {
	e := newTestExchanger(t)
	_, err := e.ExchangeCode(context.Background(), "github", "", "http://localhost/cb")
	if !errors.Is(err, ErrExchangeFailed) {
		t.Errorf("got %v, want ErrExchangeFailed", err)
	}
}

func TestFetchProfile(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"email field", `{"email": "alice@example.com", "name": "Alice"}`, "alice@example.com"},
		{"mail field", `{"mail": "bob@example.com", "displayName": "Bob"}`, "bob@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			e := newTestExchanger(t, WithProvider("github", Descriptor{UserinfoURL: ts.URL}))
			email, err := e.FetchProfile(context.Background(), "github", "provider-token")
			if err != nil {
				t.Fatalf("FetchProfile: %v", err)
			}
			if email != tt.want {
				t.Errorf("email: got %q, want %q", email, tt.want)
			}
			if gotAuth != "Bearer provider-token" {
				t.Errorf("Authorization: got %q", gotAuth)
			}
		})
	}
}

func TestFetchProfileFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"no email in response", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name": "Alice"}`))
		}},
		{"error status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			e := newTestExchanger(t, WithProvider("github", Descriptor{UserinfoURL: ts.URL}))
			_, err := e.FetchProfile(context.Background(), "github", "tok")
			if !errors.Is(err, ErrProfileFailed) {
				t.Errorf("got %v, want ErrProfileFailed", err)
			}
		})
	}
}

// A provider without a JWKS endpoint cannot verify id_tokens; UserEmail must
// fall back to the userinfo call.
func TestUserEmailFallsBackToUserinfo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email": "carol@example.com"}`))
	}))
	defer ts.Close()

	e := newTestExchanger(t, WithProvider("github", Descriptor{UserinfoURL: ts.URL}))

	email, err := e.UserEmail(context.Background(), "github", Tokens{
		AccessToken: "tok",
		IDToken:     "opaque-unverifiable-token",
	})
	if err != nil {
		t.Fatalf("UserEmail: %v", err)
	}
	if email != "carol@example.com" {
		t.Errorf("email: got %q", email)
	}
}
