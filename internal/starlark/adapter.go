package starlark

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
)

// StatementExecutor is the database capability exposed to templates as
// the "adapter" global. pkg/adapter.Adapter satisfies it.
type StatementExecutor interface {
	ExecuteStatement(ctx context.Context, sql string) (*core.Cursor, error)
	Status(cursor *core.Cursor) string
	DialectName() string
}

// ErrNoExecutor is returned by execute_sql when the adapter value has no
// database behind it.
var ErrNoExecutor = errors.New("adapter has no database connection")

// AdapterValue wraps a StatementExecutor as a Starlark object with
// execute_sql(sql) and get_status(cursor).
type AdapterValue struct {
	exec StatementExecutor
}

var (
	_ starlark.Value    = (*AdapterValue)(nil)
	_ starlark.HasAttrs = (*AdapterValue)(nil)
)

// NewAdapterValue creates the adapter global around exec.
func NewAdapterValue(exec StatementExecutor) *AdapterValue {
	return &AdapterValue{exec: exec}
}

func (a *AdapterValue) String() string        { return fmt.Sprintf("<adapter %s>", a.name()) }
func (a *AdapterValue) Type() string          { return "adapter" }
func (a *AdapterValue) Freeze()               {}
func (a *AdapterValue) Truth() starlark.Bool  { return true }
func (a *AdapterValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: adapter") }

func (a *AdapterValue) name() string {
	if a.exec == nil {
		return "none"
	}
	return a.exec.DialectName()
}

// Attr implements starlark.HasAttrs.
func (a *AdapterValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "type":
		return starlark.String(a.name()), nil
	case "execute_sql":
		return starlark.NewBuiltin("execute_sql", a.executeSQL).BindReceiver(a), nil
	case "get_status":
		return starlark.NewBuiltin("get_status", a.getStatus).BindReceiver(a), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (a *AdapterValue) AttrNames() []string {
	return []string{"execute_sql", "get_status", "type"}
}

// executeSQL runs sql and returns (connection, cursor).
func (a *AdapterValue) executeSQL(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var sql string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &sql); err != nil {
		return nil, err
	}
	if a.exec == nil {
		return nil, ErrNoExecutor
	}

	cursor, err := a.exec.ExecuteStatement(GoContext(thread), sql)
	if err != nil {
		return nil, err
	}

	conn := &ConnectionValue{conn: core.Connection{Name: thread.Name, Adapter: a.exec.DialectName()}}
	return starlark.Tuple{conn, &CursorValue{Cursor: cursor}}, nil
}

func (a *AdapterValue) getStatus(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cv *CursorValue
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &cv); err != nil {
		return nil, err
	}
	if a.exec == nil {
		return nil, ErrNoExecutor
	}
	return starlark.String(a.exec.Status(cv.Cursor)), nil
}

// CursorValue exposes a core.Cursor to templates.
type CursorValue struct {
	Cursor *core.Cursor
}

var _ starlark.HasAttrs = (*CursorValue)(nil)

func (c *CursorValue) String() string        { return fmt.Sprintf("<cursor %d>", c.Cursor.RowsAffected) }
func (c *CursorValue) Type() string          { return "cursor" }
func (c *CursorValue) Freeze()               {}
func (c *CursorValue) Truth() starlark.Bool  { return true }
func (c *CursorValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: cursor") }

// Attr implements starlark.HasAttrs.
func (c *CursorValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "rows_affected":
		return starlark.MakeInt64(c.Cursor.RowsAffected), nil
	case "message":
		return starlark.String(c.Cursor.Message), nil
	case "sql":
		return starlark.String(c.Cursor.SQL), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *CursorValue) AttrNames() []string {
	return []string{"message", "rows_affected", "sql"}
}

// ConnectionValue exposes the connection half of execute_sql's result.
type ConnectionValue struct {
	conn core.Connection
}

var _ starlark.HasAttrs = (*ConnectionValue)(nil)

func (c *ConnectionValue) String() string        { return fmt.Sprintf("<connection %s>", c.conn.Name) }
func (c *ConnectionValue) Type() string          { return "connection" }
func (c *ConnectionValue) Freeze()               {}
func (c *ConnectionValue) Truth() starlark.Bool  { return true }
func (c *ConnectionValue) Hash() (uint32, error) { return starlark.String(c.conn.Name).Hash() }

// Attr implements starlark.HasAttrs.
func (c *ConnectionValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(c.conn.Name), nil
	case "adapter":
		return starlark.String(c.conn.Adapter), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *ConnectionValue) AttrNames() []string {
	return []string{"adapter", "name"}
}

// DryRunExecutor accepts statements without running them. It stands in for
// the adapter while dependencies are captured.
type DryRunExecutor struct {
	dialect string
}

// NewDryRunExecutor returns a dry-run executor reporting the dialect of
// wrapped, or "dry_run" when wrapped is nil.
func NewDryRunExecutor(wrapped StatementExecutor) *DryRunExecutor {
	dialect := "dry_run"
	if wrapped != nil {
		dialect = wrapped.DialectName()
	}
	return &DryRunExecutor{dialect: dialect}
}

// NewDryRunExecutorFor returns a dry-run executor reporting dialect.
func NewDryRunExecutorFor(dialect string) *DryRunExecutor {
	return &DryRunExecutor{dialect: dialect}
}

// ExecuteStatement returns an empty cursor without touching a database.
func (d *DryRunExecutor) ExecuteStatement(_ context.Context, sql string) (*core.Cursor, error) {
	return &core.Cursor{SQL: sql, RowsAffected: -1, Message: "DRY RUN"}, nil
}

// Status implements StatementExecutor.
func (d *DryRunExecutor) Status(cursor *core.Cursor) string {
	return cursor.Message
}

// DialectName implements StatementExecutor.
func (d *DryRunExecutor) DialectName() string {
	return d.dialect
}
