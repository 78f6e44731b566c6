package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rewind/internal/config"
	"rewind/internal/coordinator"
	"rewind/internal/emitter"
	"rewind/internal/observability"
	"rewind/internal/perception"
)

// shutdownGrace bounds how long Stop waits for the cron engine to drain its
// currently running jobs before the process exits anyway.
const shutdownGrace = 30 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline, store, and chat service and block until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

// runDaemon loads config, wires observability, starts the coordinator, and
// blocks until SIGINT/SIGTERM - mirroring the teacher's orchestrator
// entrypoint ordering: env overlay, then config, then logger, then OTel,
// then the long-running component.
func runDaemon(baseCtx context.Context) error {
	// Best-effort: a sibling .env is optional, config.LoadConfig layers its
	// own overlay once the config path (and therefore its directory) is
	// known, so this first pass only covers vars read before that (e.g.
	// REWIND_DATA_DIR itself).
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdownOTel, err := observability.InitOTel(baseCtx, observability.OTelConfig{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
	})
	if err != nil {
		log.Warn().Err(err).Msg("otel_init_failed_continuing_without_tracing")
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	settings := config.NewSettings(cfg)
	app := coordinator.New(settings, emitter.NopEmitter{})

	ctx, stop := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// rewindd itself captures no platform input; a host process (the
	// desktop shell) feeds perception.RawRecord values through its own
	// perception.RecordSource, wired in here once that capture layer
	// exists. Until then the pipeline runs against whatever the store and
	// chat API surface alone can exercise.
	var recordSource perception.RecordSource
	if err := app.Start(ctx, recordSource); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	log.Info().Str("data_dir", cfg.DataDir).Str("db", cfg.Database.Path).Msg("rewindd_started")
	<-ctx.Done()
	log.Info().Msg("rewindd_shutdown_signal_received")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop coordinator: %w", err)
	}
	return nil
}
