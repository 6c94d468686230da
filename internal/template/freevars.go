package template

import (
	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"go.starlark.net/syntax"
)

// parseExpr parses a template expression with the same options used to evaluate it.
func parseExpr(file, src string) (syntax.Expr, error) {
	return starctx.ExprOptions.ParseExpr(file, src, 0)
}

// macroCall is a call whose callee is a plain name or a dotted name:
// name(...) or pkg.name(...). Calls on any other callee are not listed.
type macroCall struct {
	root string // identifier the callee starts from
	pkg  string // qualifying package, empty for bare calls
	name string
}

// exprInfo is what analysis learns about one expression.
type exprInfo struct {
	names []string
	calls []macroCall
}

// freeNames returns the identifiers an expression reads from its
// environment, in order of first use. Names bound inside the expression
// (comprehension variables, lambda parameters) and attribute or keyword
// names are not free.
func freeNames(expr syntax.Expr) []string {
	return analyzeExpr(expr).names
}

// analyzeExpr returns the free names of expr and its calls on free names,
// in evaluation order: arguments are listed before the call they feed.
func analyzeExpr(expr syntax.Expr) *exprInfo {
	f := &freeVars{bound: map[string]int{}, seen: map[string]bool{}}
	f.walk(expr)
	return &exprInfo{names: f.names, calls: f.calls}
}

type freeVars struct {
	bound map[string]int
	seen  map[string]bool
	names []string
	calls []macroCall
}

func (f *freeVars) use(name string) {
	if f.bound[name] > 0 || f.seen[name] {
		return
	}
	f.seen[name] = true
	f.names = append(f.names, name)
}

func (f *freeVars) bind(names []string) {
	for _, n := range names {
		f.bound[n]++
	}
}

func (f *freeVars) unbind(names []string) {
	for _, n := range names {
		f.bound[n]--
	}
}

func (f *freeVars) walk(n syntax.Node) {
	switch n := n.(type) {
	case nil:
		return

	case *syntax.Ident:
		f.use(n.Name)

	case *syntax.Literal:

	case *syntax.DotExpr:
		f.walk(n.X)

	case *syntax.CallExpr:
		f.walk(n.Fn)
		for _, arg := range n.Args {
			// keyword argument names are not references
			if b, ok := arg.(*syntax.BinaryExpr); ok && b.Op == syntax.EQ {
				f.walk(b.Y)
				continue
			}
			f.walk(arg)
		}
		if call, ok := f.callee(n.Fn); ok {
			f.calls = append(f.calls, call)
		}

	case *syntax.Comprehension:
		var bound []string
		for _, clause := range n.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				f.walk(c.X)
				vars := targetNames(c.Vars)
				f.bind(vars)
				bound = append(bound, vars...)
			case *syntax.IfClause:
				f.walk(c.Cond)
			}
		}
		f.walk(n.Body)
		f.unbind(bound)

	case *syntax.LambdaExpr:
		var params []string
		for _, p := range n.Params {
			switch p := p.(type) {
			case *syntax.Ident:
				params = append(params, p.Name)
			case *syntax.BinaryExpr:
				// default values are evaluated in the enclosing scope
				f.walk(p.Y)
				params = append(params, targetNames(p.X)...)
			case *syntax.UnaryExpr:
				if p.X != nil {
					params = append(params, targetNames(p.X)...)
				}
			}
		}
		f.bind(params)
		f.walk(n.Body)
		f.unbind(params)

	case *syntax.ParenExpr:
		f.walk(n.X)

	case *syntax.ListExpr:
		for _, x := range n.List {
			f.walk(x)
		}

	case *syntax.TupleExpr:
		for _, x := range n.List {
			f.walk(x)
		}

	case *syntax.DictExpr:
		for _, x := range n.List {
			f.walk(x)
		}

	case *syntax.DictEntry:
		f.walk(n.Key)
		f.walk(n.Value)

	case *syntax.CondExpr:
		f.walk(n.Cond)
		f.walk(n.True)
		f.walk(n.False)

	case *syntax.UnaryExpr:
		if n.X != nil {
			f.walk(n.X)
		}

	case *syntax.BinaryExpr:
		f.walk(n.X)
		f.walk(n.Y)

	case *syntax.SliceExpr:
		f.walk(n.X)
		if n.Lo != nil {
			f.walk(n.Lo)
		}
		if n.Hi != nil {
			f.walk(n.Hi)
		}
		if n.Step != nil {
			f.walk(n.Step)
		}

	case *syntax.IndexExpr:
		f.walk(n.X)
		f.walk(n.Y)
	}
}

// callee reports the macro a call targets when fn is name or pkg.name
// rooted at a free identifier. a.b.c() targets package b, macro c.
func (f *freeVars) callee(fn syntax.Expr) (macroCall, bool) {
	switch fn := fn.(type) {
	case *syntax.Ident:
		if f.bound[fn.Name] > 0 {
			return macroCall{}, false
		}
		return macroCall{root: fn.Name, name: fn.Name}, true

	case *syntax.DotExpr:
		if sandboxAttr(fn.Name.Name) {
			return macroCall{}, false
		}
		var pkg string
		switch x := fn.X.(type) {
		case *syntax.Ident:
			pkg = x.Name
		case *syntax.DotExpr:
			pkg = x.Name.Name
		default:
			return macroCall{}, false
		}
		root := rootName(fn.X)
		if root == "" || f.bound[root] > 0 {
			return macroCall{}, false
		}
		return macroCall{root: root, pkg: pkg, name: fn.Name.Name}, true
	}
	return macroCall{}, false
}

// rootName returns the identifier a dotted expression starts from, or ""
// when it starts from anything else.
func rootName(e syntax.Expr) string {
	for {
		switch x := e.(type) {
		case *syntax.Ident:
			return x.Name
		case *syntax.DotExpr:
			e = x.X
		default:
			return ""
		}
	}
}

// targetNames returns the identifiers bound by an assignment target.
func targetNames(e syntax.Expr) []string {
	switch e := e.(type) {
	case *syntax.Ident:
		return []string{e.Name}
	case *syntax.ParenExpr:
		return targetNames(e.X)
	case *syntax.TupleExpr:
		var out []string
		for _, x := range e.List {
			out = append(out, targetNames(x)...)
		}
		return out
	case *syntax.ListExpr:
		var out []string
		for _, x := range e.List {
			out = append(out, targetNames(x)...)
		}
		return out
	}
	return nil
}
