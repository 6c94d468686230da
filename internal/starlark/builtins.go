package starlark

import (
	"fmt"

	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
)

// Names bound by every execution context. Macros may not shadow them.
var builtinNames = map[string]bool{
	"adapter":                   true,
	"config":                    true,
	"env":                       true,
	"execute":                   true,
	"is_incremental":            true,
	"log":                       true,
	"ref":                       true,
	"statement_result_callback": true,
	"target":                    true,
	"this":                      true,
	"var":                       true,
}

// IsBuiltinName reports whether name is reserved by the execution context.
func IsBuiltinName(name string) bool {
	return builtinNames[name]
}

// ConfigToStarlark converts frontmatter config map to a Starlark dict.
// The config dict is accessible as "config" global in templates.
func ConfigToStarlark(config map[string]any) (starlark.Value, error) {
	if config == nil {
		return starlark.NewDict(0), nil
	}
	return GoToStarlark(config)
}

// BuildConfigDict creates a config dict from a node's configuration.
func BuildConfigDict(name string, cfg core.NodeConfig) *starlark.Dict {
	dict := starlark.NewDict(8)

	if name != "" {
		_ = dict.SetKey(starlark.String("name"), starlark.String(name))
	}
	if cfg.Materialized != "" {
		_ = dict.SetKey(starlark.String("materialized"), starlark.String(cfg.Materialized))
	}
	if cfg.UniqueKey != "" {
		_ = dict.SetKey(starlark.String("unique_key"), starlark.String(cfg.UniqueKey))
	}
	if cfg.Schema != "" {
		_ = dict.SetKey(starlark.String("schema"), starlark.String(cfg.Schema))
	}

	if len(cfg.Tags) > 0 {
		tagList := make([]starlark.Value, len(cfg.Tags))
		for i, t := range cfg.Tags {
			tagList[i] = starlark.String(t)
		}
		_ = dict.SetKey(starlark.String("tags"), starlark.NewList(tagList))
	}

	if len(cfg.Meta) > 0 {
		metaVal, err := GoToStarlark(cfg.Meta)
		if err == nil {
			_ = dict.SetKey(starlark.String("meta"), metaVal)
		}
	}

	return dict
}

// EnvToStarlark converts environment string to Starlark value.
// The env string is accessible as "env" global in templates.
func EnvToStarlark(env string) starlark.Value {
	return starlark.String(env)
}

// Predeclared returns the static globals for template execution:
// config, env, target, this.
// Note: Macros and callable builtins are added by the ExecutionContext.
func Predeclared(config starlark.Value, env string, target *TargetInfo, this *ThisInfo) starlark.StringDict {
	if config == nil {
		config = starlark.NewDict(0)
	}
	globals := starlark.StringDict{
		"config": config,
		"env":    EnvToStarlark(env),
	}

	if target != nil {
		globals["target"] = target.ToStarlark()
	}

	if this != nil {
		globals["this"] = this.ToStarlark()
	}

	return globals
}

// ConfigValue is the "config" global. It reads like a dict
// (config["materialized"], config.get("schema")) and can be called with
// keyword arguments to update the node configuration.
type ConfigValue struct {
	dict *starlark.Dict
	hook func(map[string]any) error
}

var (
	_ starlark.Mapping  = (*ConfigValue)(nil)
	_ starlark.HasAttrs = (*ConfigValue)(nil)
	_ starlark.Callable = (*ConfigValue)(nil)
)

// NewConfigValue wraps dict. hook, when set, receives every config() call.
func NewConfigValue(dict *starlark.Dict, hook func(map[string]any) error) *ConfigValue {
	if dict == nil {
		dict = starlark.NewDict(0)
	}
	return &ConfigValue{dict: dict, hook: hook}
}

func (c *ConfigValue) String() string        { return c.dict.String() }
func (c *ConfigValue) Type() string          { return "config" }
func (c *ConfigValue) Freeze()               { c.dict.Freeze() }
func (c *ConfigValue) Truth() starlark.Bool  { return true }
func (c *ConfigValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: config") }
func (c *ConfigValue) Name() string          { return "config" }

// Get implements starlark.Mapping.
func (c *ConfigValue) Get(k starlark.Value) (starlark.Value, bool, error) {
	return c.dict.Get(k)
}

// Attr exposes the read-only dict methods (get, keys, items, values).
func (c *ConfigValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get", "keys", "items", "values":
		return c.dict.Attr(name)
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *ConfigValue) AttrNames() []string {
	return []string{"get", "items", "keys", "values"}
}

// CallInternal implements config(materialized="table", ...). A single
// positional dict argument is accepted as well. Returns the empty string
// so {{ config(...) }} renders nothing.
func (c *ConfigValue) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	updates := make(map[string]any, len(kwargs))

	if len(args) > 1 {
		return nil, fmt.Errorf("config: got %d positional arguments, want at most 1", len(args))
	}
	if len(args) == 1 {
		d, ok := args[0].(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("config: positional argument must be a dict, got %s", args[0].Type())
		}
		for _, item := range d.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("config: dict keys must be strings")
			}
			if err := c.set(updates, key, item[1]); err != nil {
				return nil, err
			}
		}
	}
	for _, kv := range kwargs {
		if err := c.set(updates, string(kv[0].(starlark.String)), kv[1]); err != nil {
			return nil, err
		}
	}

	if c.hook != nil {
		if err := c.hook(updates); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return starlark.String(""), nil
}

func (c *ConfigValue) set(updates map[string]any, key string, v starlark.Value) error {
	gv, err := ToGo(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	updates[key] = gv
	if err := c.dict.SetKey(starlark.String(key), v); err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	return nil
}

// RefFunc resolves ref(name) or ref(package, name). pkg is empty when the
// caller did not name a package.
type RefFunc func(pkg, name string) (starlark.Value, error)

func refBuiltin(resolve RefFunc) *starlark.Builtin {
	return starlark.NewBuiltin("ref", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var a, b string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &a, &b); err != nil {
			return nil, err
		}
		if b == "" {
			return resolve("", a)
		}
		return resolve(a, b)
	})
}

func varBuiltin(vars map[string]any) *starlark.Builtin {
	return starlark.NewBuiltin("var", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var def starlark.Value
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
			return nil, err
		}
		if v, ok := vars[name]; ok {
			return GoToStarlark(v)
		}
		if def != nil {
			return def, nil
		}
		return nil, fmt.Errorf("required var %q not found in config", name)
	})
}

func isIncrementalBuiltin(incremental bool) *starlark.Builtin {
	return starlark.NewBuiltin("is_incremental", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return starlark.Bool(incremental), nil
	})
}

func logBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("log", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg starlark.Value
		var info bool
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "msg", &msg, "info?", &info); err != nil {
			return nil, err
		}
		logger := ThreadLogger(thread)
		if info {
			logger.Info(ToText(msg), "thread", thread.Name)
		} else {
			logger.Debug(ToText(msg), "thread", thread.Name)
		}
		return starlark.String(""), nil
	})
}
