package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/leapstack-labs/weft/internal/config"
	"github.com/leapstack-labs/weft/internal/engine"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

type commandContextKey struct{}

// WithCommandContext stores the loaded configuration, logger and renderer
// for subcommands.
func WithCommandContext(ctx context.Context, cc *CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey{}, cc)
}

// FromContext returns the CommandContext stored by the root command.
func FromContext(ctx context.Context) (*CommandContext, bool) {
	cc, ok := ctx.Value(commandContextKey{}).(*CommandContext)
	return cc, ok
}

// NewCommandContext creates a CommandContext with an engine.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	base, ok := FromContext(cmd.Context())
	if !ok {
		return nil, nil, fmt.Errorf("%s: configuration not loaded", cmd.Name())
	}

	eng, err := createEngine(cmd.Context(), base.Cfg, base.Logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			base.Logger.Warn("failed to close engine", "error", err)
		}
	}

	return &CommandContext{
		Cfg:      base.Cfg,
		Logger:   base.Logger,
		Engine:   eng,
		Renderer: base.Renderer,
	}, cleanup, nil
}

// EngineConfig converts the project configuration to the engine config.
func EngineConfig(cfg *config.Config, logger *slog.Logger) engine.Config {
	return engine.Config{
		Package:     cfg.Name,
		ProjectDir:  cfg.ProjectDir,
		ModelsDir:   cfg.ModelsDir,
		MacrosDir:   cfg.MacrosDir,
		PackagesDir: cfg.PackagesDir,
		StatePath:   cfg.StatePath,
		TargetName:  cfg.Target.Name,
		Adapter:     cfg.Target.AdapterConfig(),
		Vars:        cfg.Vars,
		Threads:     cfg.Threads,
		Logger:      logger,
	}
}

func createEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	// Ensure state directory exists
	if cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	return engine.New(ctx, EngineConfig(cfg, logger))
}
