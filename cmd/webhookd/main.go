// The webhook ingress daemon accepts IFTTT tweet triggers and broadcast
// webhooks, validates them and writes queue files. Processing happens
// in the queue worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	handler "mirrorpost/internal/handler/http"
	"mirrorpost/internal/infra/queue"
	"mirrorpost/internal/observability/logging"
	"mirrorpost/internal/observability/tracing"
)

// Spec is the daemon's environment configuration.
type Spec struct {
	Port              int    `envconfig:"WEBHOOK_PORT" default:"8089"`
	QueueDir          string `envconfig:"QUEUE_DIR" default:"queue/ifttt/prod"`
	QueueDirTest      string `envconfig:"QUEUE_DIR_TEST" default:"queue/ifttt/test"`
	BroadcastQueueDir string `envconfig:"BROADCAST_QUEUE_DIR"`
	WebhookSecret     string `envconfig:"TLAMBOT_WEBHOOK_SECRET"`
}

func main() {
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

	prod, err := queue.New(spec.QueueDir)
	if err != nil {
		logger.Error("cannot open prod queue", slog.Any("error", err))
		os.Exit(4)
	}
	test, err := queue.New(spec.QueueDirTest)
	if err != nil {
		logger.Error("cannot open test queue", slog.Any("error", err))
		os.Exit(4)
	}
	var broadcast *queue.Queue
	if spec.BroadcastQueueDir != "" {
		broadcast, err = queue.New(spec.BroadcastQueueDir)
		if err != nil {
			logger.Error("cannot open broadcast queue", slog.Any("error", err))
			os.Exit(4)
		}
	}
	if spec.WebhookSecret == "" {
		logger.Warn("TLAMBOT_WEBHOOK_SECRET not set, broadcast signature verification disabled")
	}

	server := handler.NewServer(
		map[string]*queue.Queue{handler.EnvProd: prod, handler.EnvTest: test},
		broadcast, spec.WebhookSecret, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", spec.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("webhook ingress listening", slog.Int("port", spec.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		select {
		case <-signals:
			logger.Info("shutdown requested")
		case <-groupCtx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("ingress failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
