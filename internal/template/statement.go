package template

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// renderStatement renders a statement block. The body is rendered, the
// result is rendered once more as a template so placeholders that only
// resolve at execution time are filled, and the text is sent to
// adapter.execute_sql when execute is true. Capture mode never executes.
func (r *renderer) renderStatement(sb *strings.Builder, n *StatementBlock, sc *scope) error {
	var body strings.Builder
	if err := r.renderNodes(&body, n.Body, sc.child()); err != nil {
		return err
	}

	text, err := r.rerender(body.String(), n.Pos(), sc)
	if err != nil {
		return err
	}

	if !r.capture && r.executeEnabled(sc) {
		if err := r.execute(n, text, sc); err != nil {
			return err
		}
	}

	sb.WriteString(text)
	return nil
}

// rerender renders text as a template against the current context.
func (r *renderer) rerender(text string, pos Position, sc *scope) (string, error) {
	if !strings.Contains(text, "{") {
		return text, nil
	}

	opts := r.tmpl.opts
	opts.ValidateMacroReferences = false
	inner, err := compileTemplate(text, pos.File, r.tmpl.node, opts)
	if err != nil {
		return "", err
	}

	sub := *r
	sub.tmpl = inner
	var sb strings.Builder
	if err := sub.renderNodes(&sb, inner.tmpl.Nodes, sc.child()); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (r *renderer) executeEnabled(sc *scope) bool {
	v, ok := r.lookup("execute", sc)
	return ok && v.Truth() == starlark.True
}

// execute dispatches text to the adapter and, for capture_result blocks,
// hands the cursor status to statement_result_callback.
func (r *renderer) execute(n *StatementBlock, text string, sc *scope) error {
	adapter, ok := r.lookup("adapter", sc)
	if !ok || adapter == starlark.None {
		return NewStatementError(n.Pos(), "statement requires an adapter", nil)
	}

	executeSQL, err := method(adapter, "execute_sql")
	if err != nil {
		return NewStatementError(n.Pos(), "invalid adapter", err)
	}

	r.logger.Debug("executing statement", "file", n.Pos().File, "line", n.Pos().Line)
	result, err := starlark.Call(r.thread, executeSQL, starlark.Tuple{starlark.String(text)}, nil)
	if err != nil {
		return NewStatementError(n.Pos(), "statement execution failed", err)
	}

	if !n.CaptureResult {
		return nil
	}
	callback, ok := r.lookup("statement_result_callback", sc)
	if !ok || callback == starlark.None {
		return nil
	}

	cursor := result
	if t, ok := result.(starlark.Tuple); ok && len(t) == 2 {
		cursor = t[1]
	}

	getStatus, err := method(adapter, "get_status")
	if err != nil {
		return NewStatementError(n.Pos(), "invalid adapter", err)
	}
	status, err := starlark.Call(r.thread, getStatus, starlark.Tuple{cursor}, nil)
	if err != nil {
		return NewStatementError(n.Pos(), "reading statement status failed", err)
	}
	if _, err := starlark.Call(r.thread, callback, starlark.Tuple{status}, nil); err != nil {
		return NewStatementError(n.Pos(), "statement_result_callback failed", err)
	}
	return nil
}

// method returns the attribute name of v.
func method(v starlark.Value, name string) (starlark.Value, error) {
	ha, ok := v.(starlark.HasAttrs)
	if !ok {
		return nil, fmt.Errorf("%s has no attribute %s", v.Type(), name)
	}
	attr, err := ha.Attr(name)
	if err != nil {
		return nil, err
	}
	if attr == nil {
		return nil, fmt.Errorf("%s has no attribute %s", v.Type(), name)
	}
	return attr, nil
}
