package template

import (
	"fmt"
	"maps"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// UnresolvedState is the stage a capture placeholder has reached.
type UnresolvedState int

// Placeholder states.
const (
	// Fresh is a bare undefined name.
	Fresh UnresolvedState = iota
	// Qualified is an attribute of another placeholder; the parent name is the package.
	Qualified
	// Recorded is a placeholder that has been called and recorded as a macro dependency.
	Recorded
)

func (s UnresolvedState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Qualified:
		return "qualified"
	case Recorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// recorder receives the macro identifiers captured while rendering.
type recorder struct {
	deps *core.DependsOn
	pkg  string // package used for unqualified calls
}

func (r *recorder) record(pkg, name string) {
	if pkg == "" {
		pkg = r.pkg
	}
	r.deps.AddMacro(core.MacroID(pkg, name))
}

// Unresolved stands in for names the context does not bind while
// dependencies are captured. Every operation on it succeeds: attributes
// qualify it, calls record a macro dependency and return True, and other
// operations yield placeholders, empty iteration or true.
type Unresolved struct {
	state UnresolvedState
	pkg   string
	name  string
	rec   *recorder
}

var (
	_ starlark.Value      = (*Unresolved)(nil)
	_ starlark.HasAttrs   = (*Unresolved)(nil)
	_ starlark.Callable   = (*Unresolved)(nil)
	_ starlark.HasBinary  = (*Unresolved)(nil)
	_ starlark.HasUnary   = (*Unresolved)(nil)
	_ starlark.Mapping    = (*Unresolved)(nil)
	_ starlark.Sequence   = (*Unresolved)(nil)
	_ starlark.Indexable  = (*Unresolved)(nil)
	_ starlark.Comparable = (*Unresolved)(nil)
)

func newUnresolved(name string, rec *recorder) *Unresolved {
	return &Unresolved{state: Fresh, name: name, rec: rec}
}

// State returns the placeholder's current state.
func (u *Unresolved) State() UnresolvedState { return u.state }

// Package returns the qualifying package, empty while Fresh.
func (u *Unresolved) Package() string { return u.pkg }

// Name implements starlark.Callable.
func (u *Unresolved) Name() string { return u.name }

func (u *Unresolved) String() string        { return "" }
func (u *Unresolved) Type() string          { return "unresolved" }
func (u *Unresolved) Freeze()               {}
func (u *Unresolved) Truth() starlark.Bool  { return starlark.True }
func (u *Unresolved) Hash() (uint32, error) { return starlark.String(u.pkg + "." + u.name).Hash() }

// Attr qualifies the placeholder: name.attr becomes package=name, name=attr.
func (u *Unresolved) Attr(attr string) (starlark.Value, error) {
	if sandboxAttr(attr) {
		return starlark.False, nil
	}
	return &Unresolved{state: Qualified, pkg: u.name, name: attr, rec: u.rec}, nil
}

// AttrNames implements starlark.HasAttrs.
func (u *Unresolved) AttrNames() []string { return nil }

// CallInternal records macro.<package>.<name> and returns True.
func (u *Unresolved) CallInternal(_ *starlark.Thread, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if u.rec != nil {
		pkg := ""
		if u.state == Qualified {
			pkg = u.pkg
		}
		u.rec.record(pkg, u.name)
	}
	u.state = Recorded
	return starlark.True, nil
}

// Binary implements arithmetic on either side of a placeholder.
func (u *Unresolved) Binary(_ syntax.Token, _ starlark.Value, _ starlark.Side) (starlark.Value, error) {
	return u.derived(), nil
}

// Unary implements -x, +x and ~x.
func (u *Unresolved) Unary(_ syntax.Token) (starlark.Value, error) {
	return u.derived(), nil
}

// Get implements starlark.Mapping so x["key"] yields a placeholder.
func (u *Unresolved) Get(_ starlark.Value) (starlark.Value, bool, error) {
	return u.derived(), true, nil
}

// Index implements starlark.Indexable.
func (u *Unresolved) Index(_ int) starlark.Value { return u.derived() }

// Len implements starlark.Sequence; placeholders are empty.
func (u *Unresolved) Len() int { return 0 }

// Iterate implements starlark.Iterable with an empty iteration.
func (u *Unresolved) Iterate() starlark.Iterator { return emptyIterator{} }

// CompareSameType lets placeholders be compared with each other.
func (u *Unresolved) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	switch op {
	case syntax.EQL:
		return u == y, nil
	case syntax.NEQ:
		return u != y, nil
	}
	return false, nil
}

// derived returns an unqualified placeholder carrying the same name.
func (u *Unresolved) derived() *Unresolved {
	return &Unresolved{state: Fresh, name: u.name, rec: u.rec}
}

// sandboxAttr reports the attributes the sandbox probes on any value.
// They are never macro references.
func sandboxAttr(name string) bool {
	return name == "unsafe_callable" || name == "alters_data"
}

type emptyIterator struct{}

func (emptyIterator) Next(*starlark.Value) bool { return false }
func (emptyIterator) Done()                     {}

// GoString implements fmt.GoStringer.
func (u *Unresolved) GoString() string {
	return fmt.Sprintf("Unresolved(%s, pkg=%q, name=%q)", u.state, u.pkg, u.name)
}

// staticCapture records the macro calls of template source without
// evaluating it. Every branch is visited and no statement executes.
type staticCapture struct {
	c   *Compiled
	ec  *starctx.ExecutionContext
	rec *recorder
}

// macro records the calls of m's parameter defaults and body. bound holds
// the names visible where m is defined.
func (s *staticCapture) macro(m *MacroBlock, bound map[string]bool) error {
	spec := s.c.params[m]
	if spec == nil {
		return fmt.Errorf("macro %s: parameters were not compiled", m.Name)
	}
	if err := s.expr(spec.binder, m.Pos(), bound); err != nil {
		return err
	}

	body := maps.Clone(bound)
	for _, name := range spec.names {
		body[name] = true
	}
	return s.nodes(m.Body, body)
}

func (s *staticCapture) nodes(nodes []Node, bound map[string]bool) error {
	for _, n := range nodes {
		if err := s.node(n, bound); err != nil {
			return err
		}
	}
	return nil
}

// node mirrors the renderer's scoping: set and nested macros bind in the
// current scope, loops and statements open a child scope.
func (s *staticCapture) node(n Node, bound map[string]bool) error {
	switch n := n.(type) {
	case *ExprNode:
		return s.expr(n.Expr, n.Pos(), bound)

	case *DoNode:
		return s.expr(n.Expr, n.Pos(), bound)

	case *SetNode:
		if err := s.expr(n.Expr, n.Pos(), bound); err != nil {
			return err
		}
		for _, name := range n.Names {
			bound[name] = true
		}

	case *ForBlock:
		if err := s.expr(n.IterExpr, n.Pos(), bound); err != nil {
			return err
		}
		body := maps.Clone(bound)
		for _, name := range n.Vars {
			body[name] = true
		}
		body["loop"] = true
		return s.nodes(n.Body, body)

	case *IfBlock:
		if err := s.expr(n.Condition, n.Pos(), bound); err != nil {
			return err
		}
		if err := s.nodes(n.Body, bound); err != nil {
			return err
		}
		for _, b := range n.ElseIfs {
			if err := s.expr(b.Condition, b.pos, bound); err != nil {
				return err
			}
			if err := s.nodes(b.Body, bound); err != nil {
				return err
			}
		}
		return s.nodes(n.Else, bound)

	case *MacroBlock:
		bound[n.Name] = true
		return s.macro(n, bound)

	case *StatementBlock:
		return s.nodes(n.Body, maps.Clone(bound))
	}
	return nil
}

func (s *staticCapture) expr(src string, pos Position, bound map[string]bool) error {
	info, err := s.c.exprFor(src)
	if err != nil {
		return NewParseErrorf(pos, "invalid expression %q: %v", src, err)
	}
	for _, call := range info.calls {
		if bound[call.root] {
			continue
		}
		if v, ok := s.ec.Lookup(call.root); ok {
			// macros bound in the context are recorded by identity
			if id := boundMacroID(v, call); id != "" {
				s.rec.deps.AddMacro(id)
			}
			continue
		}
		if starctx.IsBuiltinName(call.root) || starlark.Universe.Has(call.root) {
			continue
		}
		s.rec.record(call.pkg, call.name)
	}
	return nil
}

// boundMacroID returns the identifier of the macro call resolves to when
// the call's root is bound to v: a macro, or a package namespace holding one.
func boundMacroID(v starlark.Value, call macroCall) string {
	if call.pkg != "" {
		if call.pkg != call.root {
			return ""
		}
		ns, ok := v.(starlark.HasAttrs)
		if !ok {
			return ""
		}
		attr, err := ns.Attr(call.name)
		if err != nil || attr == nil {
			return ""
		}
		v = attr
	}
	if m, ok := v.(*MacroValue); ok {
		return m.id
	}
	return ""
}
