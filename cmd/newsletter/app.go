package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/classletter/newsletter-engine/internal/agent"
	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/config"
	"github.com/classletter/newsletter-engine/internal/monitor"
	"github.com/classletter/newsletter-engine/internal/notify"
	"github.com/classletter/newsletter-engine/internal/recovery"
	"github.com/classletter/newsletter-engine/internal/sanitize"
	"github.com/classletter/newsletter-engine/internal/store"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

// app holds everything a command needs to run the workflow.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	engine  *workflow.Engine
	stats   *recovery.Stats
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := store.NewDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { db.Close() })

	artifacts, closeArtifacts, err := artifact.Open(ctx, cfg.Storage, db)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.closers = append(a.closers, closeArtifacts)

	completer, err := agent.NewAnthropicCompleter(os.Getenv(cfg.LLM.APIKeyEnv))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w (set %s)", err, cfg.LLM.APIKeyEnv)
	}

	planner := &agent.LLMPlanner{
		Completer: completer,
		Store:     artifacts,
		Model:     cfg.LLM.Planner,
		Detector:  agent.NewLanguageDetector(),
		Logger:    logger,
	}
	generator := agent.NewLLMGenerator(completer, artifacts, cfg.LLM.Generator)
	generator.Policy = sanitize.PolicyFromConfig(cfg.Sanitizer)
	generator.Logger = logger

	sink := notify.Multi{notify.LogSink{Logger: logger}, notify.NewStoreSink(db)}
	a.stats = recovery.ProcessStats()

	eng := workflow.NewEngine(db, artifacts, planner, generator)
	eng.Sink = sink
	eng.Logger = logger
	eng.Policy = &recovery.Policy{Artifacts: artifacts, Sink: sink, Stats: a.stats, Logger: logger}
	eng.Monitor = monitor.New(cfg.Monitor.Capacity, monitor.Thresholds{
		Duration:   time.Duration(cfg.Monitor.SlowThresholdSec) * time.Second,
		MemoryMB:   cfg.Monitor.MemoryLimitMB,
		CPUPercent: cfg.Monitor.CPULimitPercent,
	}, logger)
	a.engine = eng

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
