package starlark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ExprOptions are the dialect options used to parse template expressions.
var ExprOptions = &syntax.FileOptions{Set: true}

// ExecutionContext provides all globals and state for Starlark template execution.
// One context serves one compile or render; it is not shared between nodes.
type ExecutionContext struct {
	// Config dict containing parsed YAML frontmatter
	// Accessible as: config["materialized"], config.get("schema"), config(materialized="table")
	Config starlark.Value

	// Env is the current environment string
	// Values: "prod", "dev", "staging", etc.
	Env string

	// Target contains adapter/database specifics
	// Accessible as: target.type, target.schema, target.database
	Target *TargetInfo

	// This contains current model info
	// Accessible as: this, this.name, this.schema
	This *ThisInfo

	// Macros contains macro bindings: root macros by bare name and one
	// namespace struct per package
	Macros starlark.StringDict

	// Vars backs var(name, default=None)
	Vars map[string]any

	// Execute is exposed as "execute"; statements only run when it is true
	Execute bool

	// Incremental is returned by is_incremental()
	Incremental bool

	// Adapter is exposed as "adapter" when set
	Adapter StatementExecutor

	// Ref backs ref(); ref is unbound when nil
	Ref RefFunc

	// OnConfig receives the keyword arguments of every config() call
	OnConfig func(map[string]any) error

	// Logger receives log() output and debug messages
	Logger *slog.Logger

	callback starlark.Value
	extra    starlark.StringDict

	statementResult    string
	hasStatementResult bool

	// globals is the combined set of all globals for execution
	globals starlark.StringDict

	// mu protects globals and the recorded statement result
	mu sync.RWMutex
}

// NewExecutionContext creates a new execution context with the given parameters.
func NewExecutionContext(config starlark.Value, env string, target *TargetInfo, this *ThisInfo) *ExecutionContext {
	return NewContext(config, env, target, this)
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithMacros sets the macros for the context.
func WithMacros(macros starlark.StringDict) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Macros = macros
	}
}

// WithVars sets the values returned by var().
func WithVars(vars map[string]any) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Vars = vars
	}
}

// WithExecute sets the "execute" flag.
func WithExecute(execute bool) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Execute = execute
	}
}

// WithIncremental sets the value returned by is_incremental().
func WithIncremental(incremental bool) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Incremental = incremental
	}
}

// WithAdapter binds "adapter" to exec.
func WithAdapter(exec StatementExecutor) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Adapter = exec
	}
}

// WithRef binds ref() to resolve.
func WithRef(resolve RefFunc) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Ref = resolve
	}
}

// WithConfigHook routes config() calls to hook.
func WithConfigHook(hook func(map[string]any) error) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.OnConfig = hook
	}
}

// WithLogger sets the context logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.Logger = logger
	}
}

// WithStatementCallback binds "statement_result_callback" to fn.
func WithStatementCallback(fn starlark.Value) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.callback = fn
	}
}

// WithResultCapture binds "statement_result_callback" to a builtin that
// stores the status with RecordStatementResult.
func WithResultCapture() ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.callback = starlark.NewBuiltin("statement_result_callback",
			func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var status starlark.Value
				if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &status); err != nil {
					return nil, err
				}
				ctx.RecordStatementResult(ToText(status))
				return starlark.None, nil
			})
	}
}

// NewContext creates a new execution context with functional options.
func NewContext(config starlark.Value, env string, target *TargetInfo, this *ThisInfo, opts ...ContextOption) *ExecutionContext {
	ctx := &ExecutionContext{
		Config: config,
		Env:    env,
		Target: target,
		This:   this,
		Macros: make(starlark.StringDict),
		extra:  make(starlark.StringDict),
	}

	for _, opt := range opts {
		opt(ctx)
	}
	if ctx.Logger == nil {
		ctx.Logger = slog.New(slog.DiscardHandler)
	}

	ctx.buildGlobals()
	return ctx
}

// buildGlobals constructs the combined globals dict.
func (ctx *ExecutionContext) buildGlobals() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	config := ctx.Config
	if d, ok := config.(*starlark.Dict); ok || config == nil {
		config = NewConfigValue(d, ctx.OnConfig)
	}

	globals := Predeclared(config, ctx.Env, ctx.Target, ctx.This)
	globals["execute"] = starlark.Bool(ctx.Execute)
	globals["is_incremental"] = isIncrementalBuiltin(ctx.Incremental)
	globals["log"] = logBuiltin()
	globals["var"] = varBuiltin(ctx.Vars)
	if ctx.Ref != nil {
		globals["ref"] = refBuiltin(ctx.Ref)
	}
	if ctx.Adapter != nil {
		globals["adapter"] = NewAdapterValue(ctx.Adapter)
	}
	if ctx.callback != nil {
		globals["statement_result_callback"] = ctx.callback
	}

	for name, macro := range ctx.Macros {
		globals[name] = macro
	}
	for name, v := range ctx.extra {
		globals[name] = v
	}
	ctx.globals = globals
}

// Globals returns the combined globals dictionary for Starlark execution.
// Callers must not modify the returned map.
func (ctx *ExecutionContext) Globals() starlark.StringDict {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.globals
}

// Has reports whether name is bound in the context.
func (ctx *ExecutionContext) Has(name string) bool {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	_, ok := ctx.globals[name]
	return ok
}

// Lookup returns the value bound to name.
func (ctx *ExecutionContext) Lookup(name string) (starlark.Value, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	v, ok := ctx.globals[name]
	return v, ok
}

// Set binds name to value, overriding builtins and macros.
func (ctx *ExecutionContext) Set(name string, value starlark.Value) {
	ctx.mu.Lock()
	ctx.extra[name] = value
	ctx.mu.Unlock()
	ctx.buildGlobals()
}

// AddMacros adds macro bindings to the context.
// Returns error if a macro name conflicts with a builtin.
func (ctx *ExecutionContext) AddMacros(macros starlark.StringDict) error {
	for name := range macros {
		if IsBuiltinName(name) {
			return fmt.Errorf("macro namespace %q conflicts with builtin", name)
		}
	}

	ctx.mu.Lock()
	for name, macro := range macros {
		ctx.Macros[name] = macro
	}
	ctx.mu.Unlock()

	ctx.buildGlobals()
	return nil
}

// RecordStatementResult stores the status delivered to the result callback.
func (ctx *ExecutionContext) RecordStatementResult(status string) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.statementResult = status
	ctx.hasStatementResult = true
}

// StatementResult returns the last recorded statement status.
func (ctx *ExecutionContext) StatementResult() (string, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.statementResult, ctx.hasStatementResult
}

// EvalExpr evaluates a single Starlark expression on a fresh thread.
func (ctx *ExecutionContext) EvalExpr(expr string, filename string, line int) (starlark.Value, error) {
	thread, stop := NewThread(context.Background(), filename, ThreadOptions{Logger: ctx.Logger})
	defer stop()
	return ctx.EvalExprWithLocals(thread, expr, filename, line, nil)
}

// EvalExprWithLocals evaluates a Starlark expression on thread with additional local variables.
// This is used for expressions inside loops and macros where template-local names need to be in scope.
func (ctx *ExecutionContext) EvalExprWithLocals(thread *starlark.Thread, expr string, filename string, line int, locals starlark.StringDict) (starlark.Value, error) {
	// Combine globals with locals (locals take precedence)
	globals := ctx.Globals()
	if len(locals) > 0 {
		combined := make(starlark.StringDict, len(globals)+len(locals))
		for k, v := range globals {
			combined[k] = v
		}
		for k, v := range locals {
			combined[k] = v
		}
		globals = combined
	}

	result, err := starlark.EvalOptions(ExprOptions, thread, filename, expr, globals)
	if err != nil {
		return nil, &EvalError{
			File:    filename,
			Line:    line,
			Expr:    expr,
			Message: err.Error(),
			Cause:   err,
		}
	}

	return result, nil
}

// EvalExprString evaluates a Starlark expression and returns the string result.
// This is the typical use case for template expressions.
func (ctx *ExecutionContext) EvalExprString(expr string, filename string, line int) (string, error) {
	result, err := ctx.EvalExpr(expr, filename, line)
	if err != nil {
		return "", err
	}
	return ToText(result), nil
}

// EvalError represents an error during Starlark expression evaluation.
type EvalError struct {
	File    string
	Line    int
	Expr    string
	Message string
	Cause   error
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: error evaluating %q: %s", e.File, e.Line, e.Expr, e.Message)
	}
	return fmt.Sprintf("%s: error evaluating %q: %s", e.File, e.Expr, e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Cause
}
