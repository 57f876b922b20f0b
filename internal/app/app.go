package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/volleylive/client-go/internal/api"
	"github.com/volleylive/client-go/internal/config"
	"github.com/volleylive/client-go/internal/realtime"
	"github.com/volleylive/client-go/internal/realtime/pusherws"
	"github.com/volleylive/client-go/internal/session"
	"github.com/volleylive/client-go/internal/store"
	"github.com/volleylive/client-go/internal/store/sqlite"
)

// App is the composition root. It constructs the session provider and the
// realtime manager exactly once and hands the same instances to every
// consumer; nothing in the codebase holds its own singleton.
type App struct {
	cfg      config.Config
	log      *zerolog.Logger
	store    store.Store
	sessions *session.Provider
	realtime *realtime.Manager
}

// New wires store, REST client, session provider, and realtime manager
// together from configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("session store initialized")

	client := api.NewHTTPClient(cfg.APIBaseURL, cfg.APITimeout, logger)
	sessions := session.NewProvider(st, client, logger)
	manager := realtime.NewManager(sessions, pusherws.Factory(logger), logger)

	return &App{
		cfg:      cfg,
		log:      logger,
		store:    st,
		sessions: sessions,
		realtime: manager,
	}, nil
}

// Sessions returns the process-wide session provider.
func (a *App) Sessions() *session.Provider { return a.sessions }

// Realtime returns the process-wide channel manager.
func (a *App) Realtime() *realtime.Manager { return a.realtime }

// Start restores the persisted session and brings the realtime transport up.
// A failed session restore is not fatal; a failed transport construction is
// returned to the caller, who decides whether to retry.
func (a *App) Start(ctx context.Context) error {
	if err := a.sessions.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	rt := a.cfg.Realtime
	a.realtime.SetReconnectionConfig(rt.ReconnectMaxAttempts, rt.ReconnectInitialDelay)

	err := a.realtime.Initialize(ctx, realtime.Config{
		Key:          rt.Key,
		Cluster:      rt.Cluster,
		Host:         rt.Host,
		ForceTLS:     rt.ForceTLS,
		AuthEndpoint: rt.AuthEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize realtime: %w", err)
	}
	return nil
}

// Close tears the realtime connection down and releases the store.
func (a *App) Close() {
	a.realtime.Disconnect()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
