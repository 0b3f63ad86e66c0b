package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Robertoarce/wakatto-sub001/internal/app"
	"github.com/Robertoarce/wakatto-sub001/internal/config"
	"github.com/Robertoarce/wakatto-sub001/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bubbled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx := context.Background()
	res, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	res.Sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	listenErr := make(chan error, 1)
	go func() {
		logStartup(logger, cfg)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-listenErr:
		return fmt.Errorf("listen error: %w", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func logStartup(logger zerolog.Logger, cfg config.Config) {
	store := "in-memory"
	if cfg.DatabaseURL != "" {
		store = "postgres"
	}
	logger.Info().
		Str("addr", cfg.BindAddr).
		Int("chars_per_line", cfg.CharsPerLine).
		Int("lines_per_bubble", cfg.LinesPerBubble).
		Int("reading_wpm", cfg.ReadingWPM).
		Str("transcript_store", store).
		Msg("server listening")
}
