// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/triage-runtime/internal/app"
	"github.com/adiadia/triage-runtime/internal/logging"
	"github.com/adiadia/triage-runtime/internal/metrics"
	"github.com/adiadia/triage-runtime/internal/telemetry"
	httptransport "github.com/adiadia/triage-runtime/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

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
		ServiceName:    "triage-api",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Exporter:       cfg.TracesExporter,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	rt, err := app.Build(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Error("runtime init failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	handler := httptransport.NewRouter(httptransport.Deps{
		Orchestrator: rt.Orchestrator,
		Executions:   rt.Executions,
		Queue:        rt.Executions,
		StepRepo:     rt.Steps,
		EventRepo:    rt.Events,
		Breakers:     rt.Breaker,
		Health:       rt.Health,
		Redactor:     rt.Redactor,
		Logger:       logger,
		APIToken:     cfg.APIToken,
		Version:      Version,
		Commit:       Commit,
		BuildDate:    BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
			"auth_enabled", cfg.APIToken != "",
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
}
