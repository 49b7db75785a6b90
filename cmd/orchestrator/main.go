// The orchestrator runs one batch over the configured sources: select
// the due ones, fetch, and push every new post through the pipeline.
// It is triggered externally (cron or systemd timer).
//
// Exit codes: 0 success, 1 partial failure, 2 config error, 4 state
// store unreachable, 130 interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/adapter"
	"mirrorpost/internal/infra/db"
	pgRepo "mirrorpost/internal/infra/adapter/persistence/postgres"
	"mirrorpost/internal/infra/publisher"
	"mirrorpost/internal/observability/logging"
	"mirrorpost/internal/observability/tracing"
	"mirrorpost/internal/pkg/config"
	"mirrorpost/internal/usecase/orchestrate"
	"mirrorpost/internal/usecase/pipeline"
)

const (
	exitOK          = 0
	exitPartial     = 1
	exitConfig      = 2
	exitState       = 4
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx)
	if err == nil {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	configDir := config.LoadEnvString("CONFIG_DIR", "config")
	loader := config.NewDir(configDir)

	global, err := loader.Global()
	if err != nil {
		return fail(logger, exitConfig, err)
	}
	tokens, err := loader.AccountTokens(global)
	if err != nil {
		return fail(logger, exitConfig, err)
	}
	sources, err := loader.Sources(global)
	if err != nil {
		return fail(logger, exitConfig, err)
	}

	database, err := db.Open()
	if err != nil {
		return fail(logger, exitState, err)
	}
	defer func() { _ = database.Close() }()

	registry := publisher.NewRegistry(global.Instance, tokens, nil)
	pipe := pipeline.NewService(
		pgRepo.NewPublishedRepo(database),
		pgRepo.NewSourceStateRepo(database),
		pgRepo.NewActivityRepo(database),
		pgRepo.NewEditBufferRepo(database),
		publisherFactory{registry},
		&pipeline.HTTPMediaFetcher{Client: adapter.NewHTTPClient()},
		logger,
	)

	svc := &orchestrate.Service{
		Sources:  sources,
		States:   pgRepo.NewSourceStateRepo(database),
		Activity: pgRepo.NewActivityRepo(database),
		Adapters: &orchestrate.DefaultAdapterFactory{},
		Pipeline: pipe,
		Logger:   logger,
	}

	// First signal: finish the current source and stop. Second signal:
	// immediate exit 130.
	soft := make(chan struct{})
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("shutdown requested, finishing current source")
		close(soft)
		<-signals
		logger.Warn("second signal, exiting immediately")
		os.Exit(exitInterrupted)
	}()

	stats, err := svc.Run(ctx, soft)
	if err != nil {
		var stateErr *entity.StateError
		if errors.As(err, &stateErr) {
			return fail(logger, exitState, err)
		}
		var configErr *entity.ConfigError
		if errors.As(err, &configErr) {
			return fail(logger, exitConfig, err)
		}
		return fail(logger, exitPartial, err)
	}

	switch {
	case stats.Interrupted:
		return exitInterrupted
	case stats.Errors > 0:
		return exitPartial
	default:
		return exitOK
	}
}

func fail(logger *slog.Logger, code int, err error) int {
	logger.Error("orchestrator failed", slog.Any("error", err))
	fmt.Fprintln(os.Stderr, err)
	return code
}

// publisherFactory adapts the client registry to the pipeline contract.
type publisherFactory struct{ registry *publisher.Registry }

func (f publisherFactory) ClientFor(account string) (pipeline.StatusPublisher, error) {
	return f.registry.ClientFor(account)
}
