// Package wizard generates a starter calcd configuration file.
package wizard

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/calcd-io/calcd/internal/auth"
	"github.com/calcd-io/calcd/internal/config"
)

const defaultOutput = "calcd.json"

// Wizard builds a config file interactively or from defaults.
type Wizard struct {
	p *Prompter
}

// New creates a Wizard using the given prompter.
func New(p *Prompter) *Wizard {
	return &Wizard{p: p}
}

// Run walks the user through configuration and writes the result.
func (w *Wizard) Run(output string) error {
	if output == "" {
		output = defaultOutput
	}

	cfg := &config.Config{}
	cfg.Server.Addr = w.p.Ask("Listen address", ":8000")
	cfg.Stage = w.p.Ask("Stage (test/development/production)", "development")

	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return err
	}
	cfg.Auth.Secret = secret

	var adminKey string
	if w.p.Confirm("Generate an initial admin API key?", true) {
		adminKey, err = randomKey()
		if err != nil {
			return err
		}
		username := w.p.Ask("Admin username", "admin")
		blob, err := encodeKeys(map[string]auth.Entry{
			adminKey: {Username: username, Roles: []string{"admin", "user"}},
		})
		if err != nil {
			return err
		}
		cfg.Auth.APIKeys = blob
	}

	cfg.OAuth.Provider = w.p.Ask("OAuth provider (github/google/microsoft)", "github")
	cfg.OAuth.ClientID = w.p.Ask("OAuth client ID", "")
	if cfg.OAuth.ClientID != "" {
		cfg.OAuth.ClientSecret = w.p.AskSecret("OAuth client secret")
		if cfg.OAuth.Provider == "microsoft" {
			cfg.OAuth.TenantID = w.p.Ask("Microsoft tenant ID", "common")
		}
	}

	cfg.Storage.DSN = w.p.Ask("Audit database path", "calcd.db")

	if err := w.write(cfg, output); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w.p.Out, "\nWrote %s\n", output)
	if adminKey != "" {
		_, _ = fmt.Fprintf(w.p.Out, "Admin API key (store it safely, it is not shown again): %s\n", adminKey)
	}
	_, _ = fmt.Fprintf(w.p.Out, "Start the server with: calcd run %s\n", output)
	return nil
}

// RunDefaults writes a config non-interactively with a generated secret.
func (w *Wizard) RunDefaults(output string) error {
	if output == "" {
		output = defaultOutput
	}

	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return err
	}

	cfg := &config.Config{}
	cfg.Server.Addr = ":8000"
	cfg.Stage = "development"
	cfg.Auth.Secret = secret
	cfg.OAuth.Provider = "github"
	cfg.Storage.DSN = "calcd.db"

	if err := w.write(cfg, output); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w.p.Out, "Wrote %s\n", output)
	return nil
}

// write refuses to clobber an existing file and keeps permissions tight,
// since the config contains secrets.
func (w *Wizard) write(cfg *config.Config, output string) error {
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%s already exists, remove it first or choose another path", output)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(output, append(data, '\n'), 0o600)
}

func randomKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func encodeKeys(keys map[string]auth.Entry) (string, error) {
	data, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
