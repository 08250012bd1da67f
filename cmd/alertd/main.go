package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"hostalerts/internal/api"
	"hostalerts/internal/config"
	"hostalerts/internal/dispatch"
	"hostalerts/internal/logger"
	"hostalerts/internal/sweep"
)

func main() {
	configPath := flag.String("config", os.Getenv("ALERTD_CONFIG"), "path to the YAML config file")
	once := flag.String("once", "", "run a single pass (sweep, dispatch or requeue) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)
	log := logger.WithComponent("alertd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer a.Close()

	if *once != "" {
		if err := runOnce(ctx, a, *once); err != nil {
			log.Error().Err(err).Str("mode", *once).Msg("run failed")
			a.Close()
			os.Exit(1)
		}
		return
	}

	if a.watchRule != nil {
		go func() {
			if err := a.watchRule(ctx); err != nil {
				log.Error().Err(err).Msg("rule watch stopped")
			}
		}()
	}

	go every(ctx, log, "sweep", cfg.Sweep.Interval, func(ctx context.Context) error {
		_, err := a.sweep.Run(ctx)
		return err
	})
	go every(ctx, log, "dispatch", cfg.Dispatch.Interval, func(ctx context.Context) error {
		_, err := a.dispatch.Run(ctx)
		return err
	})
	go every(ctx, log, "requeue", cfg.Dispatch.RequeueEvery, func(ctx context.Context) error {
		_, err := a.requeue.Run(ctx)
		return err
	})

	handler := &api.Handler{
		Sweep:    a.sweep,
		Dispatch: a.dispatch,
		Requeue:  a.requeue,
		Outbox:   a.outbox,
		Rules:    a.rules,
		Health:   a.health,
		Timeout:  5 * time.Second,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Admin.Addr).Str("storage", cfg.Storage.Driver).Msg("alertd listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("admin server error")
	}
	log.Info().Msg("alertd stopped")
}

func runOnce(ctx context.Context, a *app, mode string) error {
	switch mode {
	case "sweep":
		summary, err := a.sweep.Run(ctx)
		if err == nil && summary.Failed > 0 {
			return fmt.Errorf("%d rules failed", summary.Failed)
		}
		return err
	case "dispatch":
		_, err := a.dispatch.Run(ctx)
		return err
	case "requeue":
		_, err := a.requeue.Run(ctx)
		return err
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// every runs fn on a ticker until ctx is done. Overlapping runs are skipped
// by the components themselves.
func every(ctx context.Context, log zerolog.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if errors.Is(err, sweep.ErrBusy) || errors.Is(err, dispatch.ErrBusy) {
					log.Debug().Str("job", name).Msg("previous run still in progress")
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Str("job", name).Msg("scheduled run failed")
			}
		}
	}
}
