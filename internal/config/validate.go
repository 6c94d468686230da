package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/weft/pkg/adapter"
)

// ReservedPackageName is the package that owns the builtin macros.
const ReservedPackageName = "weft"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Message)
}

// Validate checks the resolved configuration. The target type must name a
// registered adapter, so callers import the adapter packages they support.
func (c *Config) Validate() error {
	if !identifier.MatchString(c.Name) {
		return &ValidationError{Key: "name", Message: fmt.Sprintf("%q is not a valid identifier", c.Name)}
	}
	if c.Name == ReservedPackageName {
		return &ValidationError{Key: "name", Message: fmt.Sprintf("%q is reserved for builtin macros", c.Name)}
	}
	if c.Threads < 1 {
		return &ValidationError{Key: "threads", Message: fmt.Sprintf("must be at least 1, got %d", c.Threads)}
	}
	switch c.Output {
	case "auto", "text", "json":
	default:
		return &ValidationError{Key: "output", Message: fmt.Sprintf("must be auto, text or json, got %q", c.Output)}
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if !identifier.MatchString(c.Target.Name) {
		return &ValidationError{Key: "target.name", Message: fmt.Sprintf("%q is not a valid identifier", c.Target.Name)}
	}
	return nil
}

// Validate checks the target type against the adapter registry. The type is
// normalized to lower case.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return &ValidationError{Key: "target.type", Message: "target type is required"}
	}
	t.Type = strings.ToLower(t.Type)
	if !adapter.IsRegistered(t.Type) {
		return &adapter.UnknownAdapterError{Type: t.Type, Available: adapter.ListAdapters()}
	}
	return nil
}
