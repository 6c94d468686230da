package engine

import (
	"context"
	"fmt"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/internal/template"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
)

// renderMode selects how a node's execution context is built.
type renderMode struct {
	execute     bool
	incremental bool
}

// Compile renders the model name (or unique ID) to SQL without executing
// statements. The project is parsed first when needed.
func (e *Engine) Compile(ctx context.Context, name string) (string, error) {
	m, err := e.ensureParsed(ctx)
	if err != nil {
		return "", err
	}
	n, ok := m.Node(name)
	if !ok {
		return "", &ModelNotFoundError{Name: name}
	}

	ec, err := e.newContext(m, n, nil, renderMode{})
	if err != nil {
		return "", err
	}
	return e.render(ctx, n, ec)
}

// newContext builds the execution context a node renders with. Each node
// gets its own context. exec is bound as "adapter"; without one a dry-run
// adapter reporting the target type stands in.
func (e *Engine) newContext(m *Manifest, n *core.Node, exec starctx.StatementExecutor, mode renderMode) (*starctx.ExecutionContext, error) {
	opts := []starctx.ContextOption{
		starctx.WithExecute(mode.execute),
		starctx.WithIncremental(mode.incremental),
		starctx.WithVars(e.cfg.Vars),
		starctx.WithRef(e.resolveRef(m, n)),
		starctx.WithLogger(e.logger.With("node", n.UniqueID)),
	}
	if exec != nil {
		opts = append(opts, starctx.WithAdapter(exec), starctx.WithResultCapture())
	} else {
		opts = append(opts, starctx.WithAdapter(starctx.NewDryRunExecutorFor(e.cfg.Adapter.Type)))
	}

	ec := starctx.NewContext(starctx.BuildConfigDict(n.Name, n.Config), e.cfg.TargetName, e.target, e.thisFor(n), opts...)
	if err := ec.AddMacros(m.Macros.Namespaces()); err != nil {
		return nil, err
	}
	return ec, nil
}

// resolveRef resolves ref() against the parsed graph. Unknown models are
// an error.
func (e *Engine) resolveRef(m *Manifest, n *core.Node) starctx.RefFunc {
	return func(pkg, name string) (starlark.Value, error) {
		if pkg == "" {
			pkg = n.PackageName
		}
		dep, ok := m.Graph.Node(core.UniqueID(core.ResourceModel, pkg, name))
		if !ok {
			return nil, fmt.Errorf("ref(%q): model not found", name)
		}
		return e.relationFor(dep), nil
	}
}

// render compiles and renders the model SQL of n. The node is copied so
// rendering never touches the parsed dependency record.
func (e *Engine) render(ctx context.Context, n *core.Node, ec *starctx.ExecutionContext) (string, error) {
	local := *n
	local.DependsOn = core.DependsOn{}

	compiled, err := template.Compile(n.RawSQL, n.Path, &local, ec, template.Options{Logger: e.logger})
	if err != nil {
		return "", err
	}
	return compiled.Render(ctx, ec)
}
