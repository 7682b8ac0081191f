package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/cashout/internal/compliance"
	"github.com/lucasnoah/cashout/internal/config"
	"github.com/lucasnoah/cashout/internal/db"
	"github.com/lucasnoah/cashout/internal/jitter"
	"github.com/lucasnoah/cashout/internal/logging"
	"github.com/lucasnoah/cashout/internal/orchestrator"
	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/provider"
	"github.com/lucasnoah/cashout/internal/stage"
)

// app is everything a command needs, wired from the config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	ctrl    *orchestrator.Controller
	store   pipeline.Store
	events  *db.DB // nil when the event log is disabled
	offramp *provider.OfframpClient
}

// loadConfig reads --config, or the default search path.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Log.JSON,
		File:    cfg.Log.File,
		Service: "cashout",
	})
}

// openEventLog opens and migrates the SQLite event log at path.
func openEventLog(path string) (*db.DB, error) {
	if path == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	path = config.ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	return d, nil
}

// openStore opens the configured state store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return pipeline.NewMemoryStore(), func() {}, nil
	case "file":
		dir := config.ExpandPath(cfg.Store.Dir)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		return pipeline.NewFileStore(dir), func() {}, nil
	case "postgres":
		pool, err := pipeline.ConnectPostgres(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		store := pipeline.NewPostgresStore(pool, cfg.Store.Owner)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		store, err := pipeline.OpenBadgerStore(pipeline.BadgerConfig{
			Path:       config.ExpandPath(cfg.Store.Path),
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close state store", "error", err)
			}
		}, nil
	}
}

// newApp loads and validates the config, then wires the controller and its
// collaborators. The cleanup func must be called when the command is done.
func newApp(cmd *cobra.Command) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", e)
		}
		return nil, nil, fmt.Errorf("config has %d validation error(s)", len(errs))
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		logCloser.Close()
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	closers = append(closers, closeStore)

	a := &app{cfg: cfg, logger: logger, store: store}

	var recorder db.Recorder = db.NoopRecorder{}
	if !cfg.EventLog.Disabled {
		events, err := openEventLog(cfg.EventLog.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		closers = append(closers, func() { events.Close() })
		a.events = events
		recorder = events
	}

	p := cfg.Providers
	withLogger := func(o provider.Options) provider.Options {
		o.Logger = logger
		return o
	}
	screener := provider.NewComplianceClient(withLogger(p.Compliance.Options()))
	custody := provider.NewCustodyClient(withLogger(p.Custody.Options()))
	swapper := provider.NewSwapClient(withLogger(p.Swap.Options()))
	pool := provider.NewPoolClient(withLogger(p.Pool.Options()))
	offOpts := p.Offramp.OfframpOptions()
	offOpts.Logger = logger
	a.offramp = provider.NewOfframpClient(offOpts)

	complianceTimeout, _ := config.Duration(cfg.Compliance.Timeout)
	tick, _ := config.Duration(cfg.Jitter.Tick)

	var opts []orchestrator.Option
	if verbose {
		opts = append(opts, orchestrator.WithProgress(cmd.ErrOrStderr()))
	}
	a.ctrl = orchestrator.New(orchestrator.Deps{
		Store:    store,
		Gate:     compliance.NewGate(screener, complianceTimeout, logger),
		Swap:     stage.NewSwap(custody, swapper, p.USDCMint),
		Shield:   stage.NewShield(pool, p.USDCMint),
		Cashout:  stage.NewCashout(pool),
		Offramp:  stage.NewOfframp(a.offramp),
		Sessions: swapper,
		Jitter:   jitter.New(tick),
		Recorder: recorder,
		Logger:   logger,
	}, opts...)

	if err := a.ctrl.Recover(cmd.Context()); err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
