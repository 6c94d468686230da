package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	FileName    = "weft.yaml"
	FileNameAlt = "weft.yml"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: WEFT_TARGET__PASSWORD sets target.password.
const EnvPrefix = "WEFT_"

// maxUpwardSearchLevels limits how far up the directory tree to search for weft.yaml.
const maxUpwardSearchLevels = 10

// Options controls where Load looks for configuration.
type Options struct {
	// File is an explicit config file; its directory becomes the project dir
	File string

	// ProjectDir is searched (and its parents) for weft.yaml when File is
	// empty. Defaults to the working directory.
	ProjectDir string

	// Flags are applied last. Only flags the user changed are read, with
	// kebab-case names mapped to snake_case keys.
	Flags *pflag.FlagSet
}

// Load resolves configuration with precedence flags > environment >
// config file > defaults.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	projectDir, cfgFile, err := locate(opts)
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectDir = projectDir
	cfg.File = cfgFile

	if cfg.Name == "" {
		cfg.Name = sanitizeName(filepath.Base(projectDir))
	}

	cfg.ModelsDir = resolvePath(cfg.ModelsDir, projectDir)
	cfg.MacrosDir = resolvePath(cfg.MacrosDir, projectDir)
	cfg.PackagesDir = resolvePath(cfg.PackagesDir, projectDir)
	cfg.StatePath = resolvePath(cfg.StatePath, projectDir)

	expandTargetEnvVars(&cfg.Target)
	if cfg.Target.Path != ":memory:" {
		cfg.Target.Path = resolvePath(cfg.Target.Path, projectDir)
	}
	cfg.Target.Type = strings.ToLower(cfg.Target.Type)
	applyTargetDefaults(&cfg.Target)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// locate returns the project directory and the config file to read.
func locate(opts Options) (projectDir, cfgFile string, err error) {
	if opts.File != "" {
		abs, err := filepath.Abs(opts.File)
		if err != nil {
			return "", "", fmt.Errorf("invalid config path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", "", fmt.Errorf("config file: %w", err)
		}
		return filepath.Dir(abs), abs, nil
	}

	start := opts.ProjectDir
	if start == "" {
		if start, err = os.Getwd(); err != nil {
			return "", "", fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	start, err = filepath.Abs(start)
	if err != nil {
		return "", "", fmt.Errorf("invalid project directory: %w", err)
	}

	if root := FindProjectRoot(start); root != "" {
		return root, findConfigFile(root), nil
	}
	return start, "", nil
}

// findConfigFile returns weft.yaml or weft.yml in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range []string{FileName, FileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the nearest directory holding
// a config file. Returns "" when none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// flagKey maps a command-line flag name to its config key.
func flagKey(name string) string {
	switch name {
	case "state":
		return "state_path"
	case "target":
		return "target.name"
	case "target-type":
		return "target.type"
	}
	return strings.ReplaceAll(name, "-", "_")
}

func envProvider() *env.Env {
	return env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
}

func resolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, leaving unknown
// references untouched.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return v
		}
		return match
	})
}

func expandTargetEnvVars(t *TargetConfig) {
	t.Password = expandEnvVars(t.Password)
	t.User = expandEnvVars(t.User)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
	t.Path = expandEnvVars(t.Path)
}

// sanitizeName turns a directory name into a package name.
func sanitizeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	name := sb.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "project_" + name
	}
	return name
}
