// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adiadia/triage-runtime/internal/app"
	"github.com/adiadia/triage-runtime/internal/logging"
	"github.com/adiadia/triage-runtime/internal/metrics"
	"github.com/adiadia/triage-runtime/internal/telemetry"
	"github.com/adiadia/triage-runtime/internal/worker"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, pipeline, err := app.LoadConfig()
	logger := logging.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("load pipeline config failed", "path", cfg.PipelineConfig, "error", err)
		os.Exit(1)
	}

	metrics.Init()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "triage-worker",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Exporter:       cfg.TracesExporter,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	rt, err := app.Build(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Error("runtime init failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	w := worker.New(worker.Deps{
		Queue:         rt.Executions,
		Runner:        rt.Orchestrator,
		Logger:        logger,
		ReclaimAfter:  cfg.WorkerReclaimAfter,
		WebhookSecret: cfg.WebhookSecret,
	})

	logger.Info("worker started",
		"concurrency", cfg.WorkerConcurrency,
		"poll_interval", cfg.WorkerPollInterval.String(),
		"reclaim_after", cfg.WorkerReclaimAfter.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		g.Go(func() error {
			return poll(gctx, w, logger.With("slot", i), cfg.WorkerPollInterval)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// poll drains the queue on every tick. Errors are logged and retried on the
// next tick so a database blip does not stop the process.
func poll(ctx context.Context, w *worker.Worker, logger *slog.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for ctx.Err() == nil {
			claimed, err := w.ProcessOnce(ctx)
			if err != nil {
				logger.Error("worker process failed", "error", err)
				break
			}
			if !claimed {
				break
			}
		}
	}
}
