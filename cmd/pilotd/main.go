// Command pilotd is the long-running supervised service: it owns the Store,
// the background Executor/Retry/Cooldown/Usage/Monitor stack, the Unified
// Scheduler, and an optional read-only status server, wired the way the
// teacher's cmd/server/main.go wires its own databases/scheduler/server
// trio before waiting on an interrupt signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/claude-pilot/internal/config"
	"github.com/aristath/claude-pilot/internal/cooldown"
	"github.com/aristath/claude-pilot/internal/executor"
	"github.com/aristath/claude-pilot/internal/monitor"
	"github.com/aristath/claude-pilot/internal/retry"
	"github.com/aristath/claude-pilot/internal/scheduler"
	"github.com/aristath/claude-pilot/internal/server"
	"github.com/aristath/claude-pilot/internal/store"
	"github.com/aristath/claude-pilot/internal/usage"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/aristath/claude-pilot/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting claude-pilot")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	if needs, err := st.NeedsMigration(); err != nil {
		log.Fatal().Err(err).Msg("failed to check migrations")
	} else if needs {
		if err := st.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	realClock := clock.Real{}

	cooldownDetector := cooldown.New(cfg.CLIPath, realClock, log)
	usageTracker := usage.New(cfg.CLIPath, time.Minute, cfg.Location, realClock, log)
	retryOrchestrator := retry.New(cooldownDetector, usageTracker, log)
	exec := executor.New(cfg.CLIPath, cfg.AllowSkipPermissions, cooldownDetector, retryOrchestrator, log)
	mon := monitor.New(usageTracker, realClock, log)

	sched := scheduler.New(st, exec, mon, usageTracker, realClock, scheduler.Config{
		GlobalConcurrency: cfg.GlobalConcurrency,
	}, log)

	ctx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	srv := server.New(server.Config{
		Addr:      cfg.HTTPAddr,
		Store:     st,
		Scheduler: sched,
		Log:       log,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("status server failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("claude-pilot started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down claude-pilot")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}

	log.Info().Msg("claude-pilot stopped")
}
