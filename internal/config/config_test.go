package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-value-with-enough-length-12345"

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "calcd.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"auth": map[string]any{"secret": testSecret},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Stage != "development" {
		t.Errorf("Stage: got %q", cfg.Stage)
	}
	if cfg.Auth.TokenTTL() != 30*time.Minute {
		t.Errorf("TokenTTL: got %v", cfg.Auth.TokenTTL())
	}
	if cfg.OAuth.Provider != "github" {
		t.Errorf("Provider: got %q", cfg.OAuth.Provider)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Driver: got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Retention.Duration != 30*24*time.Hour {
		t.Errorf("Retention: got %v", cfg.Storage.Retention.Duration)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("RateLimit: got %+v", cfg.RateLimit)
	}
}

func TestLoadMissingFileEnvOnly(t *testing.T) {
	t.Setenv("CALCD_AUTH_SECRET", testSecret)
	t.Setenv("CALCD_ADDR", ":9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr: got %q", cfg.Server.Addr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"stage": "development",
		"auth":  map[string]any{"secret": testSecret},
	})
	t.Setenv("CALCD_STAGE", "production")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stage != "production" {
		t.Errorf("Stage: got %q, want env override to win", cfg.Stage)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr string
	}{
		{
			"missing secret",
			map[string]any{},
			"auth.secret is required",
		},
		{
			"short secret",
			map[string]any{"auth": map[string]any{"secret": "too-short"}},
			"at least 32 characters",
		},
		{
			"weak secret",
			map[string]any{"auth": map[string]any{"secret": "your-secret-key-min-32-chars-change-in-production"}},
			"weak secret",
		},
		{
			"bad stage",
			map[string]any{"stage": "staging", "auth": map[string]any{"secret": testSecret}},
			"stage must be",
		},
		{
			"bad storage driver",
			map[string]any{"storage": map[string]any{"driver": "mysql"}, "auth": map[string]any{"secret": testSecret}},
			"unsupported storage driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.cfg))
			if err == nil {
				t.Fatal("Load: expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load: got %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"45m"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 45*time.Minute {
		t.Errorf("got %v, want 45m", d.Duration)
	}

	if err := json.Unmarshal([]byte(`90`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("got %v, want 90s", d.Duration)
	}

	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for boolean duration")
	}
}

func TestGenerateRandomSecret(t *testing.T) {
	a, err := GenerateRandomSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateRandomSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("length: got %d, want 64", len(a))
	}
	if a == b {
		t.Error("two generated secrets are identical")
	}
}
