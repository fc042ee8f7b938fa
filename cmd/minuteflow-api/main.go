package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minuteflow/internal/app"
	"minuteflow/internal/config"
	"minuteflow/internal/httpapi"
	"minuteflow/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	a, err := app.New(cfg, logger, app.WithMetrics(metrics))
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if cfg.Speech.Warm {
		if err := a.Transcriber.Warm(context.Background()); err != nil {
			logger.Error("speech model unavailable", "error", err)
			os.Exit(1)
		}
		logger.Info("speech model loaded", "backend", cfg.Speech.Backend)
	}

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       a.Pipeline,
		Renderer:       a.Renderer,
		Ready:          a.Generator,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	// Transcription and generation block for the whole request, so the write
	// timeout has to cover both.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"llm_backend", cfg.LLM.Backend,
			"llm_model", cfg.LLM.Model,
			"template", cfg.LLM.Template,
			"speech_backend", cfg.Speech.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
