// Package adapter defines the database adapter contract used by the weft
// engine and the registry concrete adapters register with.
//
// Concrete adapter implementations live in pkg/adapters subdirectories and
// register themselves from init.
package adapter

import (
	"context"

	"github.com/leapstack-labs/weft/pkg/core"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)

// Adapter is a connection to a target database.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// ExecuteStatement runs one statement from a template statement block
	// and reports its outcome.
	ExecuteStatement(ctx context.Context, sql string) (*core.Cursor, error)

	// Status summarizes a cursor returned by ExecuteStatement, e.g. "CREATE 1".
	Status(cursor *core.Cursor) string

	// DialectName is the adapter type used for materialization lookup.
	DialectName() string

	// GetTableMetadata retrieves metadata for a specified table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)
}
