// SPDX-License-Identifier: Apache-2.0

// Package app assembles the triage runtime from configuration so the api,
// worker and cli binaries share one wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/breaker"
	"github.com/adiadia/triage-runtime/internal/config"
	"github.com/adiadia/triage-runtime/internal/domain"
	"github.com/adiadia/triage-runtime/internal/fallback"
	"github.com/adiadia/triage-runtime/internal/orchestrator"
	"github.com/adiadia/triage-runtime/internal/persistence/postgres"
	"github.com/adiadia/triage-runtime/internal/redact"
	"github.com/adiadia/triage-runtime/internal/repository"
	"github.com/adiadia/triage-runtime/internal/tools"
)

// Runtime holds the long-lived components of one process.
type Runtime struct {
	Config       config.Config
	Pool         *pgxpool.Pool
	Executions   *repository.ExecutionRepository
	Steps        *repository.StepRepository
	Events       *repository.EventRepository
	Transactions *repository.TransactionRepository
	Breaker      *breaker.CircuitBreaker
	Orchestrator *orchestrator.Orchestrator
	Redactor     *redact.Redactor
	Health       *postgres.SchemaHealthChecker
}

// LoadConfig reads the environment and overlays the optional pipeline file.
func LoadConfig() (config.Config, config.Pipeline, error) {
	cfg := config.Load()
	if strings.TrimSpace(cfg.PipelineConfig) == "" {
		return cfg, config.Pipeline{}, nil
	}

	p, err := config.LoadPipeline(cfg.PipelineConfig)
	if err != nil {
		return cfg, config.Pipeline{}, err
	}
	return p.Apply(cfg), p, nil
}

// Build connects to Postgres, applies migrations when enabled and wires the
// orchestrator to the repositories. Callers must Close the runtime.
func Build(ctx context.Context, cfg config.Config, p config.Pipeline, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.WithMaxConns(int32(cfg.DBMaxConns)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	rt, err := Wire(cfg, p, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return rt, nil
}

// Wire builds the runtime on an existing pool.
func Wire(cfg config.Config, p config.Pipeline, pool *pgxpool.Pool, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	execRepo := repository.NewExecutionRepository(pool, logger)
	eventRepo := repository.NewEventRepository(pool, logger)
	txnRepo := repository.NewTransactionRepository(pool, logger)

	toolset := tools.NewToolset(tools.Sources{
		Profiles:     repository.NewCustomerRepository(pool, logger),
		Transactions: txnRepo,
		KB:           repository.NewKBRepository(pool, logger),
		Status:       txnRepo,
		Logger:       logger,
	})

	cb := breaker.New(
		breaker.WithThreshold(cfg.BreakerThreshold),
		breaker.WithCoolDown(cfg.BreakerCoolDown),
	)

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:        execRepo,
		Events:       eventRepo,
		Tools:        toolset,
		Breaker:      cb,
		Fallbacks:    fallback.New(),
		Logger:       logger,
		StepTimeout:  cfg.StepTimeout,
		StepTimeouts: p.StepTimeouts(),
		RunTimeout:   cfg.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	logger.Info("runtime wired",
		"plan", orch.Plan().Strings(),
		"step_timeout", cfg.StepTimeout.String(),
		"run_timeout", durationOrUnbounded(cfg.RunTimeout),
		"breaker_threshold", cb.Threshold(),
		"breaker_cooldown", cb.CoolDown().String(),
	)

	return &Runtime{
		Config:       cfg,
		Pool:         pool,
		Executions:   execRepo,
		Steps:        repository.NewStepRepository(pool, logger),
		Events:       eventRepo,
		Transactions: txnRepo,
		Breaker:      cb,
		Orchestrator: orch,
		Redactor:     redact.New(),
		Health:       postgres.NewSchemaHealthChecker(pool),
	}, nil
}

func (r *Runtime) Close() {
	if r != nil && r.Pool != nil {
		r.Pool.Close()
	}
}

func durationOrUnbounded(d time.Duration) string {
	if d <= 0 {
		return "unbounded"
	}
	return d.String()
}
