package template

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scope holds template-local bindings: loop variables, set names, macro
// parameters and macros. Lookups walk outwards to the parent.
type scope struct {
	vars   starlark.StringDict
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(starlark.StringDict), parent: parent}
}

func (s *scope) child() *scope { return newScope(s) }

func (s *scope) set(name string, v starlark.Value) { s.vars[name] = v }

func (s *scope) lookup(name string) (starlark.Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// flatten returns all visible bindings, inner scopes winning.
func (s *scope) flatten() starlark.StringDict {
	var chain []*scope
	for sc := s; sc != nil; sc = sc.parent {
		chain = append(chain, sc)
	}
	out := make(starlark.StringDict)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v
		}
	}
	return out
}

// renderer walks a template AST and writes its output. One renderer
// exists per template being rendered; macro calls derive child renderers
// that share the thread, context and dependency recorder.
type renderer struct {
	tmpl    *Compiled
	ec      *starctx.ExecutionContext
	thread  *starlark.Thread
	rec     *recorder
	capture bool
	logger  *slog.Logger

	base  *scope // capture overrides, shared by every template
	root  *scope // top-level bindings of tmpl
	depth int
}

// child returns a renderer for a macro owned by owner.
func (r *renderer) child(owner *Compiled) *renderer {
	c := *r
	c.depth++
	if owner != r.tmpl {
		c.tmpl = owner
		c.root = owner.rootScope(r.base)
	}
	return &c
}

// renderNodes renders nodes into sb.
func (r *renderer) renderNodes(sb *strings.Builder, nodes []Node, sc *scope) error {
	for _, n := range nodes {
		if err := r.renderNode(sb, n, sc); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderNode(sb *strings.Builder, n Node, sc *scope) error {
	switch n := n.(type) {
	case *TextNode:
		sb.WriteString(n.Text)

	case *ExprNode:
		v, err := r.eval(n.Expr, n.Pos(), sc)
		if err != nil {
			return err
		}
		sb.WriteString(starctx.ToText(v))

	case *ForBlock:
		return r.renderFor(sb, n, sc)

	case *IfBlock:
		return r.renderIf(sb, n, sc)

	case *SetNode:
		v, err := r.eval(n.Expr, n.Pos(), sc)
		if err != nil {
			return err
		}
		return r.assign(n.Pos(), sc, n.Names, v)

	case *DoNode:
		_, err := r.eval(n.Expr, n.Pos(), sc)
		return err

	case *MacroBlock:
		// top-level macros are bound before rendering starts
		if r.tmpl.hoisted[n] && sc == r.root {
			return nil
		}
		sc.set(n.Name, &MacroValue{block: n, owner: r.tmpl})

	case *StatementBlock:
		return r.renderStatement(sb, n, sc)

	default:
		return NewRenderErrorf(n.Pos(), "unknown node type %T", n)
	}
	return nil
}

func (r *renderer) renderFor(sb *strings.Builder, n *ForBlock, sc *scope) error {
	iterable, err := r.eval(n.IterExpr, n.Pos(), sc)
	if err != nil {
		return err
	}

	iter := starlark.Iterate(iterable)
	if iter == nil {
		return NewRenderErrorf(n.Pos(), "'%s' is not iterable", iterable.Type())
	}
	var items []starlark.Value
	var item starlark.Value
	for iter.Next(&item) {
		items = append(items, item)
	}
	iter.Done()

	for i, item := range items {
		body := sc.child()
		if err := r.assign(n.Pos(), body, n.Vars, item); err != nil {
			return err
		}
		if !slices.Contains(n.Vars, "loop") {
			body.set("loop", loopInfo(i, len(items)))
		}
		if err := r.renderNodes(sb, n.Body, body); err != nil {
			return err
		}
	}
	return nil
}

// loopInfo is bound as "loop" inside for bodies.
func loopInfo(i, n int) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("loop"), starlark.StringDict{
		"index":    starlark.MakeInt(i + 1),
		"index0":   starlark.MakeInt(i),
		"revindex": starlark.MakeInt(n - i),
		"first":    starlark.Bool(i == 0),
		"last":     starlark.Bool(i == n-1),
		"length":   starlark.MakeInt(n),
	})
}

func (r *renderer) renderIf(sb *strings.Builder, n *IfBlock, sc *scope) error {
	cond, err := r.eval(n.Condition, n.Pos(), sc)
	if err != nil {
		return err
	}
	if cond.Truth() {
		return r.renderNodes(sb, n.Body, sc)
	}

	for _, branch := range n.ElseIfs {
		cond, err := r.eval(branch.Condition, branch.pos, sc)
		if err != nil {
			return err
		}
		if cond.Truth() {
			return r.renderNodes(sb, branch.Body, sc)
		}
	}

	return r.renderNodes(sb, n.Else, sc)
}

// assign binds names to v, unpacking v when more than one name is given.
func (r *renderer) assign(pos Position, sc *scope, names []string, v starlark.Value) error {
	if len(names) == 1 {
		sc.set(names[0], v)
		return nil
	}

	if u, ok := v.(*Unresolved); ok && r.capture {
		for _, name := range names {
			sc.set(name, u.derived())
		}
		return nil
	}

	seq, ok := v.(starlark.Indexable)
	if !ok {
		return NewRenderErrorf(pos, "cannot unpack %s into %d names", v.Type(), len(names))
	}
	if seq.Len() != len(names) {
		return NewRenderErrorf(pos, "cannot unpack %d values into %d names", seq.Len(), len(names))
	}
	for i, name := range names {
		sc.set(name, seq.Index(i))
	}
	return nil
}

// eval evaluates src with the template-local bindings of sc. Names bound
// nowhere become capture placeholders in capture mode and are an error
// otherwise. In capture mode calls on placeholders are recorded before
// evaluation, and an expression that fails because it operates on a
// placeholder evaluates to a placeholder.
func (r *renderer) eval(src string, pos Position, sc *scope) (starlark.Value, error) {
	info, err := r.tmpl.exprFor(src)
	if err != nil {
		return nil, NewParseErrorf(pos, "invalid expression %q: %v", src, err)
	}

	locals := sc.flatten()
	var unresolved map[string]bool
	for _, name := range info.names {
		if _, ok := locals[name]; ok {
			continue
		}
		if r.ec.Has(name) || starlark.Universe.Has(name) {
			continue
		}
		if !r.capture {
			return nil, NewUndefinedError(pos, name)
		}
		if unresolved == nil {
			unresolved = make(map[string]bool)
		}
		unresolved[name] = true
		locals[name] = newUnresolved(name, r.rec)
	}

	if r.capture {
		for _, call := range info.calls {
			if unresolved[call.root] {
				r.rec.record(call.pkg, call.name)
			}
		}
	}

	v, err := r.ec.EvalExprWithLocals(r.thread, src, pos.File, pos.Line, locals)
	if err != nil {
		if r.capture && usesPlaceholder(info.names, locals) {
			r.logger.Debug("placeholder in capture", "expr", src, "error", err)
			return newUnresolved(src, nil), nil
		}
		return nil, WrapRenderError(pos, "error evaluating expression", err)
	}
	return v, nil
}

// usesPlaceholder reports whether any of names is bound to a placeholder.
func usesPlaceholder(names []string, locals starlark.StringDict) bool {
	for _, name := range names {
		if _, ok := locals[name].(*Unresolved); ok {
			return true
		}
	}
	return false
}

// lookup resolves a name the way expressions do, without placeholders.
func (r *renderer) lookup(name string, sc *scope) (starlark.Value, bool) {
	if v, ok := sc.lookup(name); ok {
		return v, true
	}
	return r.ec.Lookup(name)
}

// bindParams binds macro arguments in sc using the macro's binder lambda.
func (r *renderer) bindParams(m *MacroBlock, sc *scope, args starlark.Tuple, kwargs []starlark.Tuple) error {
	spec := r.tmpl.params[m]
	if spec == nil {
		return fmt.Errorf("macro %s: parameters were not compiled", m.Name)
	}

	binder, err := r.eval(spec.binder, m.Pos(), r.root)
	if err != nil {
		return err
	}
	bound, err := starlark.Call(r.thread, binder, args, kwargs)
	if err != nil {
		return fmt.Errorf("macro %s: %w", m.Name, err)
	}

	values, ok := bound.(starlark.Tuple)
	if !ok || len(values) != len(spec.names) {
		return fmt.Errorf("macro %s: unexpected binding result %s", m.Name, bound)
	}
	for i, name := range spec.names {
		sc.set(name, values[i])
	}
	return nil
}
