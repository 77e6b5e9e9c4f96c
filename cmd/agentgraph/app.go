package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/agentgraph/internal/catalog"
	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/metrics"
	"github.com/rendis/agentgraph/internal/runner"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/internal/streaming"
	"github.com/rendis/agentgraph/internal/validation"
)

// app is the wired dependency graph shared by every command.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	vault     *credentials.Vault // nil without vault.passphrase
	catalog   *catalog.Catalog
	validator *validation.WorkflowValidator
	runner    *runner.Runner
}

// newApp wires store → event log → hub → FSM/executor/coordinator → runner,
// then loads the agent catalog. invoker overrides the HTTP LLM client when non-nil.
func newApp(ctx context.Context, cfg *Config, logOut io.Writer, invoker llm.Invoker) (*app, error) {
	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)

	policy, err := engine.ParseContinuationPolicy(cfg.Engine.Policy)
	if err != nil {
		return nil, err
	}
	cycles, err := engine.ParseCyclePolicy(cfg.Engine.CyclePolicy)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: s}

	if cfg.Vault.Passphrase != "" {
		a.vault, err = credentials.NewVault(s, credentials.VaultConfig{
			Passphrase: cfg.Vault.Passphrase,
			Salt:       []byte(cfg.Vault.Salt),
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	var chain credentials.Chain
	if a.vault != nil {
		chain = append(chain, a.vault)
	}
	chain = append(chain, credentials.Static{Creds: credentials.Credentials{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model}})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector("agentgraph", a.registry)

	a.hub = streaming.NewMemoryHub(0)
	appender := streaming.NewTeeAppender(store.NewEventLog(s), a.hub, logger)

	if invoker == nil {
		invoker = llm.NewClient(llm.ClientConfig{
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
			RPS:          cfg.LLM.RPS,
			Burst:        cfg.LLM.Burst,
		}, llm.WithLogger(logger))
	}

	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.LLM.MaxRetries + 1

	fsm := engine.NewNodeFSM(appender)
	executor, err := engine.NewNodeExecutor(invoker, fsm, appender, engine.ExecutorConfig{
		Retry:        retry,
		DefaultModel: cfg.LLM.Model,
	}, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	coord := engine.NewCoordinator(executor, fsm, appender, engine.CoordinatorConfig{
		Cycles:      cycles,
		Credentials: chain,
	}, logger)

	a.runner = runner.New(runner.Config{
		Store:       s,
		Coordinator: coord,
		FSM:         fsm,
		Metrics:     a.metrics,
		Policy:      policy,
		Logger:      logger,
	})

	if err := a.loadCatalog(ctx, cycles == engine.CycleSilentDrop); err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

// loadCatalog reads persisted agents, then syncs catalog.path into the store.
func (a *app) loadCatalog(ctx context.Context, allowCycles bool) error {
	cat, err := catalog.FromStore(ctx, a.store)
	if err != nil {
		return err
	}
	v, err := validation.NewWorkflowValidator(cat, validation.Options{AllowCycles: allowCycles})
	if err != nil {
		return err
	}
	a.catalog, a.validator = cat, v

	if a.cfg.Catalog.Path == "" {
		return nil
	}
	n, err := a.importAgents(ctx, a.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", a.cfg.Catalog.Path, err)
	}
	a.logger.InfoContext(ctx, "agent catalog loaded", slog.String("path", a.cfg.Catalog.Path), slog.Int("agents", n))
	return nil
}

// importAgents validates and persists the catalog file at path and makes its
// definitions visible to the validator.
func (a *app) importAgents(ctx context.Context, path string) (int, error) {
	file, err := catalog.LoadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := file.Sync(ctx, a.validator, a.store)
	if err != nil {
		return n, err
	}
	for _, def := range file.Agents() {
		a.catalog.Put(def)
	}
	return n, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") && !strings.Contains(path, "://") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + path
	}
	s, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}
