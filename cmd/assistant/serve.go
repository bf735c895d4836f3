package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bttk/calendar-assistant/pkg/api"
	"github.com/bttk/calendar-assistant/pkg/config"
	"github.com/bttk/calendar-assistant/pkg/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	authenticator, err := a.authenticator(ctx)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		if sched, err = scheduler.New(cfg.Scheduler.Spec, a.assistant, logger); err != nil {
			return err
		}
		sched.Start()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(a.store, a.assistant, authenticator, a.metrics, api.Options{
		CronSecret:     cfg.Server.CronSecret,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if sched != nil {
			sched.Stop(context.Background())
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
