// Package config loads weft project configuration from weft.yaml, the
// environment and command-line flags.
package config

import (
	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/pkg/core"
)

// Config is the resolved project configuration. Directory paths are
// absolute once Load returns.
type Config struct {
	// Name is the root package name used in unique IDs (model.<name>.orders)
	Name        string         `koanf:"name"`
	ModelsDir   string         `koanf:"models_dir"`
	MacrosDir   string         `koanf:"macros_dir"`
	PackagesDir string         `koanf:"packages_dir"`
	StatePath   string         `koanf:"state_path"`
	Threads     int            `koanf:"threads"`
	Vars        map[string]any `koanf:"vars"`
	Target      TargetConfig   `koanf:"target"`
	Verbose     bool           `koanf:"verbose"`
	Output      string         `koanf:"output"`

	// ProjectDir is the directory holding weft.yaml, or the working
	// directory when there is none.
	ProjectDir string `koanf:"-"`

	// File is the config file that was read, empty when none was found.
	File string `koanf:"-"`
}

// TargetConfig holds database target configuration.
type TargetConfig struct {
	// Name labels the target in templates (target.name) and run history
	Name string `koanf:"name"`
	Type string `koanf:"type"` // duckdb, postgres, sqlite

	// File-based databases (DuckDB, SQLite)
	Path string `koanf:"path"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	Schema string `koanf:"schema"`

	// Options are driver options (sslmode for postgres, pragmas for sqlite)
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific settings (DuckDB extensions, secrets, settings)
	Params map[string]any `koanf:"params"`
}

// AdapterConfig converts the target to the adapter connection config.
func (t *TargetConfig) AdapterConfig() core.AdapterConfig {
	return core.AdapterConfig{
		Type:     t.Type,
		Path:     t.Path,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
		Params:   t.Params,
	}
}

// TargetInfo returns the credential-free view of the target exposed to
// templates.
func (t *TargetConfig) TargetInfo() *starctx.TargetInfo {
	return starctx.TargetInfoFromConfig(t.Name, t.AdapterConfig())
}
