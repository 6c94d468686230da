package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/weft/pkg/adapter"
	"github.com/leapstack-labs/weft/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, cfg core.AdapterConfig) *Adapter {
	t.Helper()
	adp := New(nil)
	require.NoError(t, adp.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_ExecuteStatement(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, core.AdapterConfig{})

	_, err := adp.ExecuteStatement(ctx, "create table orders (id integer not null, amount real)")
	require.NoError(t, err)

	cursor, err := adp.ExecuteStatement(ctx, "insert into orders values (1, 10.0), (2, 20.5), (3, 3.0)")
	require.NoError(t, err)
	assert.Equal(t, "INSERT 3", adp.Status(cursor))

	cursor, err = adp.ExecuteStatement(ctx, "delete from orders where amount < 5")
	require.NoError(t, err)
	assert.Equal(t, "DELETE 1", adp.Status(cursor))

	_, err = adp.ExecuteStatement(ctx, "insert into missing values (1)")
	assert.Error(t, err)
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, core.AdapterConfig{})

	require.NoError(t, adp.Exec(ctx, "create table customers (id INTEGER NOT NULL, name TEXT)"))
	require.NoError(t, adp.Exec(ctx, "insert into customers values (1, 'a'), (2, 'b')"))

	meta, err := adp.GetTableMetadata(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, int64(2), meta.RowCount)
	assert.Equal(t, []core.Column{
		{Name: "id", Type: "INTEGER", Nullable: false, Position: 1},
		{Name: "name", Type: "TEXT", Nullable: true, Position: 2},
	}, meta.Columns)

	_, err = adp.GetTableMetadata(ctx, "nope")
	assert.Error(t, err)
}

func TestAdapter_FileAndPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	adp := connect(t, core.AdapterConfig{
		Path:    path,
		Options: map[string]string{"foreign_keys": "1"},
	})

	rows, err := adp.Query(ctx, "pragma foreign_keys")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())
	var on int
	require.NoError(t, rows.Scan(&on))
	assert.Equal(t, 1, on)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, ":memory:", buildDSN(":memory:", nil))
	assert.Equal(t,
		"w.db?_pragma=busy_timeout%285000%29&_pragma=journal_mode%28wal%29",
		buildDSN("w.db", map[string]string{"journal_mode": "wal", "busy_timeout": "5000"}))
}

func TestAdapter_NotConnected(t *testing.T) {
	adp := New(nil)
	_, err := adp.ExecuteStatement(context.Background(), "select 1")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	_, err = adp.GetTableMetadata(context.Background(), "t")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.Equal(t, "sqlite", adp.DialectName())
}
