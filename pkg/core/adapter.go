package core

import (
	"database/sql"
)

// AdapterConfig holds configuration for connecting to a database.
type AdapterConfig struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	Options  map[string]string
	Params   map[string]any
}

// Column represents a column in a database table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// TableMetadata holds metadata about a database table.
type TableMetadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Rows wraps sql.Rows to provide a consistent interface.
type Rows struct {
	*sql.Rows
}

// Cursor describes the outcome of one executed statement. It is what the
// template adapter object hands back from execute_sql and what get_status
// summarizes.
type Cursor struct {
	// SQL is the statement text that was executed
	SQL string
	// RowsAffected is the driver-reported count, -1 when unknown
	RowsAffected int64
	// Message is an adapter-specific status word (e.g. OK, SELECT, CREATE)
	Message string
}

// Connection names the connection a statement ran on.
type Connection struct {
	Name    string
	Adapter string
}
