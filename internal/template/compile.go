package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Options controls compilation and rendering.
type Options struct {
	// CaptureDependencies renders in capture mode: unbound names become
	// placeholders whose calls are recorded in the node's DependsOn.Macros,
	// and statements never execute.
	CaptureDependencies bool

	// ValidateMacroReferences rejects calls to ref() and var(). Used for macro files.
	ValidateMacroReferences bool

	// MaxSteps bounds Starlark execution per render (0 = starctx.DefaultMaxSteps).
	MaxSteps uint64

	// Logger receives debug output (nil = discard).
	Logger *slog.Logger
}

// Compiled is a parsed template ready to render. It closes over the node
// and the execution context it was compiled with.
type Compiled struct {
	tmpl   *Template
	file   string
	node   *core.Node
	ec     *starctx.ExecutionContext
	opts   Options
	logger *slog.Logger

	exprs   map[string]*exprInfo
	params  map[*MacroBlock]*paramSpec
	hoisted map[*MacroBlock]bool
	macros  []*MacroValue
}

// Compile lexes and parses source and checks every embedded expression.
// node receives captured dependencies and identifies errors; it may be nil.
// All errors are *core.CompilationError.
func Compile(source, file string, node *core.Node, ec *starctx.ExecutionContext, opts Options) (*Compiled, error) {
	c, err := compileTemplate(source, file, node, opts)
	if err != nil {
		return nil, toCompilationError(err, node, file)
	}
	c.ec = ec
	return c, nil
}

// RenderString compiles and renders input with default options.
func RenderString(input, file string, ec *starctx.ExecutionContext) (string, error) {
	c, err := Compile(input, file, nil, ec, Options{})
	if err != nil {
		return "", err
	}
	return c.Render(context.Background(), ec)
}

func compileTemplate(source, file string, node *core.Node, opts Options) (*Compiled, error) {
	tokens, err := NewLexer(source, file).Tokenize()
	if err != nil {
		return nil, err
	}
	if opts.ValidateMacroReferences {
		if tokens, err = ValidateReferences(tokens); err != nil {
			return nil, err
		}
	}
	tmpl, err := Parse(tokens, file)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Compiled{
		tmpl:    tmpl,
		file:    file,
		node:    node,
		opts:    opts,
		logger:  logger,
		exprs:   make(map[string]*exprInfo),
		params:  make(map[*MacroBlock]*paramSpec),
		hoisted: make(map[*MacroBlock]bool),
	}
	if err := c.analyze(tmpl.Nodes); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, m := range tmpl.Macros() {
		if seen[m.Name] {
			return nil, NewParseErrorf(m.Pos(), "macro %q is defined more than once", m.Name)
		}
		seen[m.Name] = true
		c.hoisted[m] = true

		id := ""
		if node != nil && node.PackageName != "" {
			id = core.MacroID(node.PackageName, m.Name)
		}
		c.macros = append(c.macros, &MacroValue{id: id, block: m, owner: c})
	}

	return c, nil
}

// analyze parses every expression of the AST once, recording its free
// names and calls.
func (c *Compiled) analyze(nodes []Node) error {
	for _, n := range nodes {
		var err error
		switch n := n.(type) {
		case *ExprNode:
			err = c.addExpr(n.Expr, n.Pos())
		case *ForBlock:
			if err = c.addExpr(n.IterExpr, n.Pos()); err == nil {
				err = c.analyze(n.Body)
			}
		case *IfBlock:
			if err = c.addExpr(n.Condition, n.Pos()); err != nil {
				return err
			}
			if err = c.analyze(n.Body); err != nil {
				return err
			}
			for _, b := range n.ElseIfs {
				if err = c.addExpr(b.Condition, b.pos); err != nil {
					return err
				}
				if err = c.analyze(b.Body); err != nil {
					return err
				}
			}
			err = c.analyze(n.Else)
		case *SetNode:
			err = c.addExpr(n.Expr, n.Pos())
		case *DoNode:
			err = c.addExpr(n.Expr, n.Pos())
		case *MacroBlock:
			spec, perr := parseParams(c.file, n.Params)
			if perr != nil {
				return NewParseErrorf(n.Pos(), "invalid parameters for macro %s: %v", n.Name, perr)
			}
			c.params[n] = spec
			if err = c.addExpr(spec.binder, n.Pos()); err == nil {
				err = c.analyze(n.Body)
			}
		case *StatementBlock:
			err = c.analyze(n.Body)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiled) addExpr(src string, pos Position) error {
	if _, ok := c.exprs[src]; ok {
		return nil
	}
	expr, err := parseExpr(pos.File, src)
	if err != nil {
		return NewParseErrorf(pos, "invalid expression %q: %v", src, err)
	}
	c.exprs[src] = analyzeExpr(expr)
	return nil
}

// exprFor returns the analysis of src, parsing it when it was not seen at
// compile time.
func (c *Compiled) exprFor(src string) (*exprInfo, error) {
	if info, ok := c.exprs[src]; ok {
		return info, nil
	}
	expr, err := parseExpr(c.file, src)
	if err != nil {
		return nil, err
	}
	return analyzeExpr(expr), nil
}

// Template returns the parsed template.
func (c *Compiled) Template() *Template { return c.tmpl }

// Node returns the node the template was compiled for.
func (c *Compiled) Node() *core.Node { return c.node }

// Macros returns the top-level macros of the template in source order.
func (c *Compiled) Macros() []*MacroValue { return c.macros }

// rootScope builds the top-level scope of c: hoisted macros over base.
func (c *Compiled) rootScope(base *scope) *scope {
	root := newScope(base)
	for _, m := range c.macros {
		root.set(m.block.Name, m)
	}
	return root
}

// Render renders the template. A nil ec renders with the context given to
// Compile. In capture mode macro dependencies are recorded on the node.
func (c *Compiled) Render(ctx context.Context, ec *starctx.ExecutionContext) (string, error) {
	var out string
	err := c.withRenderer(ctx, ec, c.node, c.opts.CaptureDependencies, func(r *renderer) error {
		var sb strings.Builder
		if err := r.renderNodes(&sb, c.tmpl.Nodes, r.root); err != nil {
			return err
		}
		out = sb.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// CallMacro renders macro m with the given arguments. The call always runs
// in full mode, so statements inside the macro execute when execute is true.
func CallMacro(ctx context.Context, ec *starctx.ExecutionContext, m *MacroValue, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
	var out string
	err := m.owner.withRenderer(ctx, ec, m.owner.node, false, func(r *renderer) error {
		v, err := starlark.Call(r.thread, m, args, kwargs)
		if err != nil {
			return err
		}
		out = starctx.ToText(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// CaptureMacro records the macro dependencies of m on node without
// rendering its body. Every call in the body whose callee is a name that
// neither the body nor ec binds is recorded; calls m makes to itself are not.
func (c *Compiled) CaptureMacro(ec *starctx.ExecutionContext, m *MacroValue, node *core.Node) error {
	if m.owner != c {
		return fmt.Errorf("macro %s is not defined in %s", m.Name(), c.file)
	}
	if ec == nil {
		ec = c.ec
	}
	if ec == nil {
		ec = starctx.NewContext(nil, "", nil, nil, starctx.WithLogger(c.logger))
	}

	s := &staticCapture{
		c:   c,
		ec:  ec,
		rec: &recorder{deps: &node.DependsOn, pkg: node.PackageName},
	}
	if err := s.macro(m.block, map[string]bool{m.block.Name: true}); err != nil {
		return toCompilationError(err, node, c.file)
	}
	return nil
}

// withRenderer sets up a thread and renderer for one render and converts
// errors to *core.CompilationError.
func (c *Compiled) withRenderer(ctx context.Context, ec *starctx.ExecutionContext, node *core.Node, capture bool, fn func(*renderer) error) error {
	if ec == nil {
		ec = c.ec
	}
	if ec == nil {
		ec = starctx.NewContext(nil, "", nil, nil, starctx.WithLogger(c.logger))
	}

	name := c.file
	rec := &recorder{deps: &core.DependsOn{}}
	if node != nil {
		name = node.UniqueID
		rec = &recorder{deps: &node.DependsOn, pkg: node.PackageName}
	}

	thread, stop := starctx.NewThread(ctx, name, starctx.ThreadOptions{
		MaxSteps: c.opts.MaxSteps,
		Logger:   c.logger,
	})
	defer stop()

	base := newScope(nil)
	if capture {
		base.set("execute", starlark.False)
		base.set("adapter", starctx.NewAdapterValue(starctx.NewDryRunExecutor(ec.Adapter)))
	}

	r := &renderer{
		tmpl:    c,
		ec:      ec,
		thread:  thread,
		rec:     rec,
		capture: capture,
		logger:  c.logger,
		base:    base,
	}
	r.root = c.rootScope(base)
	thread.SetLocal(rendererKey, r)

	c.logger.Debug("rendering template", "file", c.file, "capture", r.capture)
	if err := fn(r); err != nil {
		return toCompilationError(err, node, c.file)
	}
	return nil
}

// toCompilationError classifies err as a *core.CompilationError.
func toCompilationError(err error, node *core.Node, file string) error {
	var existing *core.CompilationError
	if errors.As(err, &existing) {
		return existing
	}

	ce := &core.CompilationError{Path: file, Kind: core.KindEvaluation, Message: err.Error(), Err: err}
	if node != nil {
		ce.NodeID = node.UniqueID
		if node.Path != "" {
			ce.Path = node.Path
		}
	}

	var (
		stmtErr      *StatementError
		undefErr     *UndefinedError
		reservedErr  *ReservedNameError
		matErr       *MaterializationArgError
		lexErr       *LexError
		parseErr     *ParseError
		unmatchedErr *UnmatchedBlockError
		syntaxErr    syntax.Error
		resolveErr   resolve.ErrorList
	)
	switch {
	case errors.As(err, &undefErr):
		ce.Kind, ce.Message = core.KindUndefined, undefErr.Error()
	case errors.As(err, &reservedErr):
		ce.Kind, ce.Message = core.KindReservedName, reservedErr.Error()
	case errors.As(err, &matErr):
		ce.Kind, ce.Message = core.KindMaterializationArgument, matErr.Error()
	case errors.As(err, &stmtErr):
		ce.Kind = core.KindStatement
	case errors.As(err, &lexErr), errors.As(err, &parseErr), errors.As(err, &unmatchedErr),
		errors.As(err, &syntaxErr), errors.As(err, &resolveErr):
		ce.Kind = core.KindSyntax
	}
	return ce
}
