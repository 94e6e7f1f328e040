// Package service ties all calcd components together into one process.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calcd-io/calcd/internal/api"
	"github.com/calcd-io/calcd/internal/auth"
	"github.com/calcd-io/calcd/internal/config"
	"github.com/calcd-io/calcd/internal/oauth"
	"github.com/calcd-io/calcd/internal/store"
)

// Service is the calcd process: config, audit store, auth components and the
// HTTP API.
type Service struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	logger *slog.Logger
}

// New constructs a Service from configuration. Every component receives its
// dependencies here; nothing reads configuration after this point. A
// duplicate API key or an unreadable store is fatal.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	keys, err := auth.ParseKeys(cfg.Auth.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("load API keys: %w", err)
	}

	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	codec := auth.NewCodec(cfg.Auth.Secret, cfg.Auth.TokenTTL())
	resolver := auth.NewResolver(codec, keys, logger)
	exchanger := oauth.New(oauth.Config{
		DefaultProvider: cfg.OAuth.Provider,
		ClientID:        cfg.OAuth.ClientID,
		ClientSecret:    cfg.OAuth.ClientSecret,
		TenantID:        cfg.OAuth.TenantID,
	}, logger)

	apiSrv := api.NewServer(resolver, codec, exchanger, db, cfg, logger)

	s := &Service{
		cfg:    cfg,
		store:  db,
		api:    apiSrv,
		logger: logger.With("component", "service"),
	}

	if keys.Len() == 0 {
		logger.Warn("no API keys configured, only OAuth tokens will authenticate")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if cfg.OAuth.ClientID == "" {
		logger.Warn("oauth.client_id is not set, the OAuth flow will not work")
	}

	return s, nil
}

// Handler returns the HTTP handler, used by tests and by Run.
func (s *Service) Handler() http.Handler {
	return s.api.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.api.StartBackgroundTasks(ctx)
	if s.cfg.Storage.Retention.Duration > 0 {
		go s.runRetentionPurger(ctx, s.cfg.Storage.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("calcd listening", "addr", s.cfg.Server.Addr, "stage", s.cfg.Stage)
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}

		_ = s.store.Close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = s.store.Close()
		return err
	}
}

func (s *Service) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := s.store.PurgeOldAuthEvents(ctx, cutoff); err != nil {
				s.logger.Warn("retention purge failed", "error", err)
			} else if n > 0 {
				s.logger.Info("retention purge: deleted old auth events", "count", n)
			}
		}
	}
}
