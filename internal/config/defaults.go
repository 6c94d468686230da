package config

// Default configuration values.
const (
	DefaultModelsDir   = "models"
	DefaultMacrosDir   = "macros"
	DefaultPackagesDir = "packages"
	DefaultStateFile   = ".weft/state.db"
	DefaultThreads     = 4
	DefaultTargetName  = "dev"
	DefaultTargetType  = "duckdb"
	DefaultOutput      = "auto"
)

// defaults returns the lowest-precedence configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"models_dir":   DefaultModelsDir,
		"macros_dir":   DefaultMacrosDir,
		"packages_dir": DefaultPackagesDir,
		"state_path":   DefaultStateFile,
		"threads":      DefaultThreads,
		"output":       DefaultOutput,
		"verbose":      false,
		"target.name":  DefaultTargetName,
		"target.type":  DefaultTargetType,
	}
}

// applyTargetDefaults fills type-specific target defaults.
func applyTargetDefaults(t *TargetConfig) {
	switch t.Type {
	case "postgres":
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Schema == "" {
			t.Schema = "public"
		}
	case "duckdb", "sqlite":
		if t.Schema == "" {
			t.Schema = "main"
		}
	}
}
