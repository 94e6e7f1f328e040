// Package store persists authentication audit events.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/calcd-io/calcd/internal/config"
)

// AuthEvent records one authentication or authorization decision. Raw
// credential values are never stored.
type AuthEvent struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`   // resolved identity, empty when unresolved
	AuthType  string    `json:"auth_type"` // "api_key", "oauth" or ""
	Action    string    `json:"action"`    // e.g. "auth.success", "auth.denied", "oauth.exchange"
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the audit event log.
type Store interface {
	LogAuthEvent(ctx context.Context, ev *AuthEvent) error
	ListAuthEvents(ctx context.Context, limit int) ([]AuthEvent, error)
	PurgeOldAuthEvents(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// New creates a Store based on the configured storage driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
