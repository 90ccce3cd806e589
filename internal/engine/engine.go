// Package engine loads a semantic model, compiles its queries to SQL and
// runs them against a target, recording history as it goes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/grainql/internal/loader"
	"github.com/leapstack-labs/grainql/internal/state"
	"github.com/leapstack-labs/grainql/pkg/adapter"
	"github.com/leapstack-labs/grainql/pkg/dialect"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

// Config holds engine configuration.
type Config struct {
	// ModelsDir is the path to the semantic model files
	ModelsDir string
	// StatePath is the SQLite history database; empty disables history
	StatePath string
	// Dialect renders SQL; nil picks the target's dialect or the default
	Dialect *dialect.Dialect
	// Target is the database queries run against (optional)
	Target *adapter.Config
	// Compile toggles processor optimizations
	Compile processor.Config
	// Origin tags history records (cli, server, watch, repl)
	Origin string
	// Concurrency bounds parallel compiles; zero means 4
	Concurrency int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// ErrNoTarget is returned when execution needs a target and none is set.
var ErrNoTarget = errors.New("no target configured")

// Engine orchestrates loading, compiling and running queries.
type Engine struct {
	// Database adapter (lazy initialized)
	db          adapter.Adapter
	dbConfig    *adapter.Config
	dbConnected bool
	dbMu        sync.Mutex

	dialect     *dialect.Dialect
	logger      *slog.Logger
	store       state.Store
	loader      *loader.Loader
	modelsDir   string
	compile     processor.Config
	origin      string
	concurrency int

	modelMu sync.RWMutex
	model   *loader.Model
}

// New creates an engine. The model is not loaded until Load is called and
// the target is not connected until a query runs.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := cfg.Dialect
	if d == nil && cfg.Target != nil {
		d, _ = dialect.Get(cfg.Target.Type)
	}
	if d == nil {
		d = dialect.Default()
	}

	var store state.Store
	if cfg.StatePath != "" {
		s, err := state.OpenAndMigrate(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		store = s
	}

	origin := cfg.Origin
	if origin == "" {
		origin = state.OriginCLI
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	compile := cfg.Compile
	if compile.Logger == nil {
		compile.Logger = logger
	}

	logger.Debug("initializing engine", "models_dir", cfg.ModelsDir, "dialect", d.Name, "history", store != nil)
	return &Engine{
		dbConfig:    cfg.Target,
		dialect:     d,
		logger:      logger,
		store:       store,
		loader:      loader.New(logger),
		modelsDir:   cfg.ModelsDir,
		compile:     compile,
		origin:      origin,
		concurrency: concurrency,
	}, nil
}

// Load reads the models directory and swaps in the new model. On error
// the previous model stays active.
func (e *Engine) Load() (*loader.Model, error) {
	m, err := e.loader.LoadDir(e.modelsDir)
	if err != nil {
		return nil, err
	}
	e.SetModel(m)
	return m, nil
}

// SetModel replaces the active model.
func (e *Engine) SetModel(m *loader.Model) {
	e.modelMu.Lock()
	e.model = m
	e.modelMu.Unlock()
}

// Model returns the active model, loading it on first use.
func (e *Engine) Model() (*loader.Model, error) {
	e.modelMu.RLock()
	m := e.model
	e.modelMu.RUnlock()
	if m != nil {
		return m, nil
	}
	return e.Load()
}

// ModelsDir is the directory models load from.
func (e *Engine) ModelsDir() string { return e.modelsDir }

// Dialect is the SQL dialect queries render in.
func (e *Engine) Dialect() *dialect.Dialect { return e.dialect }

// History returns the history store, or nil when history is disabled.
func (e *Engine) History() state.Store { return e.store }

// ensureDBConnected lazily connects to the target.
func (e *Engine) ensureDBConnected(ctx context.Context) (adapter.Adapter, error) {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return e.db, nil
	}
	if e.dbConfig == nil {
		return nil, ErrNoTarget
	}

	e.logger.Debug("connecting to database", "adapter_type", e.dbConfig.Type)
	db, err := adapter.Open(ctx, *e.dbConfig, e.logger)
	if err != nil {
		return nil, err
	}
	if db.Dialect() != nil && db.Dialect().Name != e.dialect.Name {
		e.logger.Warn("rendering dialect differs from target", "dialect", e.dialect.Name, "target", db.Dialect().Name)
	}
	e.db = db
	e.dbConnected = true
	return db, nil
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
