package template

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// maxMacroDepth bounds nested macro calls within one render.
const maxMacroDepth = 64

// rendererKey is the thread-local key of the active renderer.
const rendererKey = "weft.template.renderer"

// paramSpec is a parsed macro parameter list.
type paramSpec struct {
	names  []string // bound names in declaration order
	binder string   // lambda expression returning the bound values as a tuple
}

// parseParams parses "a, b='x', *args, **kwargs". Argument binding is left
// to Starlark: the binder lambda accepts the same parameters and returns them.
func parseParams(file, params string) (*paramSpec, error) {
	params = strings.TrimSpace(params)
	if params == "" {
		return &paramSpec{binder: "lambda: ()"}, nil
	}

	expr, err := parseExpr(file, "lambda "+params+": None")
	if err != nil {
		return nil, err
	}
	lambda, ok := expr.(*syntax.LambdaExpr)
	if !ok {
		return nil, fmt.Errorf("invalid parameter list %q", params)
	}

	spec := &paramSpec{}
	for _, p := range lambda.Params {
		switch p := p.(type) {
		case *syntax.Ident:
			spec.names = append(spec.names, p.Name)
		case *syntax.BinaryExpr:
			spec.names = append(spec.names, targetNames(p.X)...)
		case *syntax.UnaryExpr:
			if p.X != nil {
				spec.names = append(spec.names, targetNames(p.X)...)
			}
		}
	}

	if len(spec.names) == 0 {
		spec.binder = "lambda " + params + ": ()"
	} else {
		spec.binder = "lambda " + params + ": (" + strings.Join(spec.names, ", ") + ",)"
	}
	return spec, nil
}

// MacroValue is a template macro exposed to Starlark as a callable.
// Calling it renders the macro body with the caller's thread and returns
// the rendered text.
type MacroValue struct {
	id    string // qualified identifier, empty for anonymous templates
	block *MacroBlock
	owner *Compiled
}

var (
	_ starlark.Callable = (*MacroValue)(nil)
	_ starlark.HasAttrs = (*MacroValue)(nil)
)

// Name implements starlark.Callable.
func (m *MacroValue) Name() string { return m.block.Name }

// ID returns the qualified macro identifier (macro.<package>.<name>).
func (m *MacroValue) ID() string { return m.id }

// Block returns the macro definition.
func (m *MacroValue) Block() *MacroBlock { return m.block }

// Params returns the declared parameter names.
func (m *MacroValue) Params() []string {
	if spec := m.owner.params[m.block]; spec != nil {
		return spec.names
	}
	return nil
}

func (m *MacroValue) String() string        { return fmt.Sprintf("<macro %s>", m.block.Name) }
func (m *MacroValue) Type() string          { return "macro" }
func (m *MacroValue) Freeze()               {}
func (m *MacroValue) Truth() starlark.Bool  { return starlark.True }
func (m *MacroValue) Hash() (uint32, error) { return starlark.String(m.id + m.block.Name).Hash() }

// Attr exposes the macro name and package.
func (m *MacroValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(m.block.Name), nil
	case "unique_id":
		return starlark.String(m.id), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (m *MacroValue) AttrNames() []string { return []string{"name", "unique_id"} }

// CallInternal renders the macro body using the renderer active on thread.
// In capture mode the body is not rendered: the call is recorded and
// returns True. The calls of a macro defined in the template being
// captured are recorded from its source.
func (m *MacroValue) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	caller, ok := thread.Local(rendererKey).(*renderer)
	if !ok {
		return nil, fmt.Errorf("macro %s called outside of a template render", m.block.Name)
	}

	if caller.capture {
		if m.id != "" {
			caller.rec.deps.AddMacro(m.id)
		}
		if m.owner == caller.tmpl {
			s := &staticCapture{c: m.owner, ec: caller.ec, rec: caller.rec}
			if err := s.macro(m.block, map[string]bool{m.block.Name: true}); err != nil {
				return nil, err
			}
		}
		return starlark.True, nil
	}

	if caller.depth >= maxMacroDepth {
		return nil, fmt.Errorf("macro %s: maximum macro call depth %d exceeded", m.block.Name, maxMacroDepth)
	}

	r := caller.child(m.owner)
	thread.SetLocal(rendererKey, r)
	defer thread.SetLocal(rendererKey, caller)

	scope := r.root.child()
	if err := r.bindParams(m.block, scope, args, kwargs); err != nil {
		return nil, err
	}

	var sb strings.Builder
	if err := r.renderNodes(&sb, m.block.Body, scope); err != nil {
		return nil, err
	}
	return starlark.String(sb.String()), nil
}
