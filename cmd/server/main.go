package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/callring/internal/adapters/http"
	"github.com/dkeye/callring/internal/app"
	"github.com/dkeye/callring/internal/app/orch"
	"github.com/dkeye/callring/internal/config"
	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/push"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)
	cfg.Watch(func(next *config.Config) {
		lvl := config.ApplyLogLevel(next.LogLevel)
		log.Info().Str("module", "main").Str("level", lvl.String()).Msg("log level applied")
	})

	notifier, err := newNotifier(ctx, cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("push notifier")
	}
	async := push.NewAsync(notifier, cfg.Push.Workers, cfg.Push.Queue, cfg.Push.Timeout)
	defer async.Close()

	reg := app.NewRegistry()
	go reg.SweepEvery(ctx, cfg.SessionTTL)

	o := &orch.Orchestrator{
		Registry: reg,
		Policy:   app.PolicyFor(cfg.Backpressure),
		Push:     async,
	}

	r := router.SetupRouter(ctx, cfg.Config, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("callring relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func newNotifier(ctx context.Context, cfg *config.Config) (core.PushNotifier, error) {
	switch cfg.Push.Provider {
	case "fcm":
		fcm, err := push.NewFCM(ctx, cfg.Push.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return fcm, nil
	default:
		log.Warn().Str("module", "main").Msg("push provider is log-only, offline users will not ring")
		return push.LogNotifier{}, nil
	}
}
