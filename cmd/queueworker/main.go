// The queue worker drains the durable webhook queue on a schedule,
// runs the retry sweeper, cleans the edit buffer, and serves metrics.
//
// With -once it performs a single processor pass and exits; exit code 3
// means another instance held the lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"mirrorpost/internal/infra/adapter"
	"mirrorpost/internal/infra/db"
	pgRepo "mirrorpost/internal/infra/adapter/persistence/postgres"
	"mirrorpost/internal/infra/publisher"
	"mirrorpost/internal/infra/queue"
	"mirrorpost/internal/observability/logging"
	"mirrorpost/internal/observability/metrics"
	"mirrorpost/internal/observability/tracing"
	"mirrorpost/internal/pkg/config"
	"mirrorpost/internal/usecase/dispatch"
	"mirrorpost/internal/usecase/pipeline"
	"mirrorpost/internal/usecase/tier"
)

// Spec is the worker's environment configuration.
type Spec struct {
	QueueDir       string `envconfig:"QUEUE_DIR" default:"queue/ifttt/prod"`
	QueueDirTest   string `envconfig:"QUEUE_DIR_TEST" default:"queue/ifttt/test"`
	MetricsPort    int    `envconfig:"METRICS_PORT" default:"9091"`
	NitterInstance string `envconfig:"NITTER_INSTANCE"`
}

func main() {
	once := flag.Bool("once", false, "run a single processor pass and exit")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	var spec Spec
	if err := envconfig.Process("", &spec); err != nil {
		logger.Error("invalid environment", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shutdown, err := tracing.InitProvider(ctx); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	loader := config.NewDir(config.LoadEnvString("CONFIG_DIR", "config"))
	global, err := loader.Global()
	if err != nil {
		logger.Error("config load failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	tokens, err := loader.AccountTokens(global)
	if err != nil {
		logger.Error("accounts load failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	sources, err := loader.Sources(global)
	if err != nil {
		logger.Error("sources load failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	catalog := config.NewCatalog(sources)

	database, err := db.Open()
	if err != nil {
		logger.Error("database open failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(4)
	}
	defer func() { _ = database.Close() }()

	nitterBase := spec.NitterInstance
	if nitterBase == "" {
		nitterBase = global.NitterInstance
	}
	httpClient := adapter.NewHTTPClient()
	engine := tier.NewEngine(
		adapter.NewNitterClient(nitterBase, httpClient),
		adapter.NewSyndicationClient(global.SyndicationBase, httpClient),
		&tier.HTTPExpander{Client: httpClient},
		logger,
	)

	registry := publisher.NewRegistry(global.Instance, tokens, nil)
	editBuffer := pgRepo.NewEditBufferRepo(database)
	pipe := pipeline.NewService(
		pgRepo.NewPublishedRepo(database),
		pgRepo.NewSourceStateRepo(database),
		pgRepo.NewActivityRepo(database),
		editBuffer,
		publisherFactory{registry},
		&pipeline.HTTPMediaFetcher{Client: httpClient},
		logger,
	)

	environments := map[string]string{
		"prod": spec.QueueDir,
		"test": spec.QueueDirTest,
	}
	queues := make(map[string]*queue.Queue, len(environments))
	for env, dir := range environments {
		q, err := queue.New(dir)
		if err != nil {
			logger.Error("cannot open queue", slog.String("env", env), slog.Any("error", err))
			fmt.Fprintln(os.Stderr, err)
			os.Exit(4)
		}
		queues[env] = q
	}

	processAll := func() int {
		exit := 0
		for env, q := range queues {
			lockPath := filepath.Join(q.Root(), "processor.lock")
			release, err := queue.Lock(lockPath)
			if err != nil {
				if err == queue.ErrLocked {
					logger.Warn("processor already running", slog.String("env", env))
					exit = 3
					continue
				}
				logger.Error("lock failed", slog.String("env", env), slog.Any("error", err))
				exit = 4
				continue
			}

			processor := &dispatch.Processor{
				Queue:    q,
				Env:      env,
				Sources:  catalog,
				Engine:   engine,
				Pipeline: pipe,
				Logger:   logger,
			}
			stats, err := processor.Run(ctx)
			release()
			if err != nil {
				logger.Error("processor run failed", slog.String("env", env), slog.Any("error", err))
				exit = 1
				continue
			}
			logger.Info("processor pass completed",
				slog.String("env", env),
				slog.Int("handled", stats.Handled),
				slog.Int("published", stats.Published),
				slog.Int("failed", stats.Failed),
				slog.Int("deferred", stats.Deferred))
			refreshQueueMetrics(env, q)
		}
		return exit
	}

	if *once {
		os.Exit(processAll())
	}

	scheduler := cron.New()
	mustSchedule(scheduler, "* * * * *", func() { processAll() })
	mustSchedule(scheduler, "*/30 * * * *", func() {
		for env, q := range queues {
			result, err := q.Sweep(logger)
			if err != nil {
				logger.Error("sweeper failed", slog.String("env", env), slog.Any("error", err))
				continue
			}
			logger.Info("sweeper pass completed",
				slog.String("env", env),
				slog.Int("requeued", result.Requeued),
				slog.Int("dead", result.Dead))
			refreshQueueMetrics(env, q)
		}
	})
	mustSchedule(scheduler, "0 * * * *", func() {
		if n, err := editBuffer.Cleanup(ctx); err == nil && n > 0 {
			logger.Info("edit buffer cleaned", slog.Int64("rows", n))
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", spec.MetricsPort)
		logger.Info("metrics listening", slog.String("addr", addr))
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	logger.Info("queue worker stopping")
}

func mustSchedule(scheduler *cron.Cron, schedule string, job func()) {
	if _, err := scheduler.AddFunc(schedule, job); err != nil {
		slog.Default().Error("invalid cron schedule",
			slog.String("schedule", schedule), slog.Any("error", err))
		os.Exit(2)
	}
}

func refreshQueueMetrics(env string, q *queue.Queue) {
	stats, err := q.Stats()
	if err != nil {
		return
	}
	for state, count := range stats {
		metrics.UpdateQueueDepth(env, state, count)
	}
}

// publisherFactory adapts the client registry to the pipeline contract.
type publisherFactory struct{ registry *publisher.Registry }

func (f publisherFactory) ClientFor(account string) (pipeline.StatusPublisher, error) {
	return f.registry.ClientFor(account)
}
