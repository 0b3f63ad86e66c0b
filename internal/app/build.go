// Package app wires the bubble server's components from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/config"
	"github.com/Robertoarce/wakatto-sub001/internal/httpapi"
	"github.com/Robertoarce/wakatto-sub001/internal/observability"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/stage"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Stages   *stage.Service
	Store    transcript.Store
	Metrics  *observability.Metrics

	// Cleanup closes every stage, waits for transcript saves and releases the store.
	Cleanup func() error
}

// Build assembles the server. metrics may be nil, in which case collectors
// are registered on the default registry.
func Build(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*BuildResult, error) {
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	stages := stage.New(stage.Config{
		CharsPerLine:    cfg.CharsPerLine,
		LinesPerBubble:  cfg.LinesPerBubble,
		MinCharsPerLine: cfg.MinCharsPerLine,
		WPM:             cfg.ReadingWPM,
		Pause:           bubbles.PauseBounds{Min: cfg.MinPause, Max: cfg.MaxPause},
	}, sessions, store, metrics, logger)

	sessions.SetExpireHook(func(s *session.Session) {
		stages.Close(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info().Str("session_id", s.ID).Msg("conversation expired")
	})

	api := httpapi.New(cfg, sessions, stages, store, metrics, logger)

	cleanup := func() error {
		stages.CloseAll()
		if err := store.Close(); err != nil {
			return fmt.Errorf("transcript store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Stages:   stages,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
