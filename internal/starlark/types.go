// Package starlark provides Starlark execution context and builtins for template rendering.
package starlark

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// TargetInfo contains database adapter/target information.
// Exposed as the "target" global in Starlark execution.
type TargetInfo struct {
	Name     string // Target name, e.g. "dev"
	Type     string // "duckdb", "postgres", "sqlite"
	Schema   string // Default schema
	Database string // Database name
}

// ToStarlark converts TargetInfo to a Starlark struct value.
func (t *TargetInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("target"), starlark.StringDict{
		"name":     starlark.String(t.Name),
		"type":     starlark.String(t.Type),
		"schema":   starlark.String(t.Schema),
		"database": starlark.String(t.Database),
	})
}

// TargetInfoFromConfig converts an adapter config to a TargetInfo for template rendering.
// This extracts only the fields that should be exposed to templates (not credentials).
func TargetInfoFromConfig(name string, cfg core.AdapterConfig) *TargetInfo {
	return &TargetInfo{
		Name:     name,
		Type:     cfg.Type,
		Schema:   cfg.Schema,
		Database: cfg.Database,
	}
}

// ThisInfo contains current model information.
// Exposed as the "this" global in Starlark execution.
type ThisInfo struct {
	Name     string // Current model name
	Schema   string // Current model schema
	Database string // Database, empty when the adapter has a single catalog
}

// ToStarlark converts ThisInfo to a relation value.
func (t *ThisInfo) ToStarlark() starlark.Value {
	return &Relation{Database: t.Database, Schema: t.Schema, Identifier: t.Name}
}

// Relation is a database relation as seen by templates. It renders as its
// qualified name so {{ this }} and {{ ref('x') }} can be dropped into SQL.
type Relation struct {
	Database   string
	Schema     string
	Identifier string
}

var (
	_ starlark.Value    = (*Relation)(nil)
	_ starlark.HasAttrs = (*Relation)(nil)
)

// String returns the dot-joined qualified name.
func (r *Relation) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Database, r.Schema, r.Identifier} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func (r *Relation) Type() string          { return "relation" }
func (r *Relation) Freeze()               {}
func (r *Relation) Truth() starlark.Bool  { return true }
func (r *Relation) Hash() (uint32, error) { return starlark.String(r.String()).Hash() }

// Attr implements starlark.HasAttrs.
func (r *Relation) Attr(name string) (starlark.Value, error) {
	switch name {
	case "database":
		return starlark.String(r.Database), nil
	case "schema":
		return starlark.String(r.Schema), nil
	case "identifier", "name":
		return starlark.String(r.Identifier), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (r *Relation) AttrNames() []string {
	return []string{"database", "identifier", "name", "schema"}
}

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, int, int64, float64, bool, []string, []any, map[string]any, map[string]string
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil

	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := GoToStarlark(v)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Fallback for very large integers - convert to string
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %T", item[0])
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	default:
		// Try to get a string representation
		return val.String(), nil
	}
}

// ToText converts a rendered value to template output. None renders as
// the empty string and strings are emitted without quotes.
func ToText(v starlark.Value) string {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(val)
	default:
		return v.String()
	}
}
