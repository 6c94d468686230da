// Package engine parses, compiles and runs the models of a weft project.
// It ties the macro registry, the model loader, the template compiler,
// the dependency graph, the adapters and the state store together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/internal/state"
	"github.com/leapstack-labs/weft/pkg/adapter"
	"github.com/leapstack-labs/weft/pkg/core"
)

// Engine orchestrates parsing and execution of SQL models.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	store  *state.Store
	target *starctx.TargetInfo

	// Database adapter (lazy initialized)
	db          adapter.Adapter
	dbConnected bool
	dbMu        sync.Mutex

	// manifest is replaced atomically by Parse
	manifest   *Manifest
	manifestMu sync.RWMutex
}

// Config holds engine configuration.
type Config struct {
	// Package is the root package name used in unique IDs
	Package string

	// ProjectDir is the project root; node paths are relative to it
	ProjectDir string

	ModelsDir   string
	MacrosDir   string
	PackagesDir string

	// StatePath is the path to the SQLite state database (":memory:" allowed)
	StatePath string

	// TargetName labels the target in templates and run history
	TargetName string

	// Adapter is the connection configuration of the target
	Adapter core.AdapterConfig

	// Vars back var() in templates
	Vars map[string]any

	// Threads bounds how many nodes run at once (default 1)
	Threads int

	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New opens the state store and creates an engine. The database adapter
// is only connected when Run is called.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Package == "" {
		return nil, errors.New("engine: package name is required")
	}
	if cfg.Adapter.Type == "" {
		return nil, errors.New("engine: adapter type is required")
	}
	if cfg.TargetName == "" {
		cfg.TargetName = "dev"
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}

	logger.Debug("initializing engine", "package", cfg.Package, "models_dir", cfg.ModelsDir, "target", cfg.TargetName)

	store, err := state.Open(ctx, cfg.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		store:  store,
		target: starctx.TargetInfoFromConfig(cfg.TargetName, cfg.Adapter),
	}, nil
}

// ensureDBConnected lazily connects to the database.
func (e *Engine) ensureDBConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return nil
	}

	e.logger.Debug("connecting to database", "adapter_type", e.cfg.Adapter.Type)

	db, err := adapter.NewAdapter(e.cfg.Adapter, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create database adapter: %w", err)
	}
	if err := db.Connect(ctx, e.cfg.Adapter); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	e.db = db
	e.dbConnected = true
	e.logger.Debug("database connected", "dialect", db.DialectName())
	return nil
}

// Close releases the adapter connection and the state store.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	e.dbMu.Lock()
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close adapter: %w", err))
		}
		e.db = nil
		e.dbConnected = false
	}
	e.dbMu.Unlock()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close state store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Manifest returns the result of the last successful Parse, or nil.
func (e *Engine) Manifest() *Manifest {
	e.manifestMu.RLock()
	defer e.manifestMu.RUnlock()
	return e.manifest
}

// Store returns the state store.
func (e *Engine) Store() *state.Store {
	return e.store
}

// Target returns the target exposed to templates.
func (e *Engine) Target() *starctx.TargetInfo {
	return e.target
}

// ensureParsed returns the current manifest, parsing the project first
// when there is none.
func (e *Engine) ensureParsed(ctx context.Context) (*Manifest, error) {
	if m := e.Manifest(); m != nil {
		return m, nil
	}
	return e.Parse(ctx)
}
