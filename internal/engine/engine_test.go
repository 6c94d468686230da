package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/weft/internal/dag"
	"github.com/leapstack-labs/weft/internal/testutil"
	"github.com/leapstack-labs/weft/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/weft/pkg/adapters/sqlite"
)

const moneyMacros = `{% macro cents_to_dollars(column) -%}
({{ column }} / 100.0)
{%- endmacro %}
`

const utilsMacros = `{% macro limit_rows(n) -%}
limit {{ n }}
{%- endmacro %}
`

// shopProject is a small project: customers (table) <- orders (view) <- revenue (view).
var shopProject = map[string]string{
	"macros/money.sql":                   moneyMacros,
	"packages/utils/macros/helpers.sql":  utilsMacros,
	"models/staging/customers.sql":       "{{ config(materialized='table') }}\nselect 1 as id, 'ada' as name union all select 2, 'grace'",
	"models/marts/orders.sql":            "select id, {{ cents_to_dollars('1250') }} as amount from {{ ref('customers') }} {{ utils.limit_rows(10) }}",
	"models/marts/revenue.sql":           "/*---\nmaterialized: table\n---*/\nselect sum(amount) as total from {{ ref('orders') }}",
	"models/marts/standalone_metric.sql": "select 42 as answer",
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestEngine(t *testing.T, project string) *Engine {
	t.Helper()
	e, err := New(context.Background(), Config{
		Package:     "shop",
		ProjectDir:  project,
		ModelsDir:   filepath.Join(project, "models"),
		MacrosDir:   filepath.Join(project, "macros"),
		PackagesDir: filepath.Join(project, "packages"),
		StatePath:   ":memory:",
		TargetName:  "dev",
		Adapter: core.AdapterConfig{
			Type:   "sqlite",
			Path:   filepath.Join(project, "warehouse.db"),
			Schema: "main",
		},
		Vars:    map[string]any{"min_id": 1},
		Threads: 2,
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func queryInt(t *testing.T, e *Engine, sql string) int64 {
	t.Helper()
	rows, err := e.db.Query(context.Background(), sql)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())
	var n int64
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Adapter: core.AdapterConfig{Type: "sqlite"}, StatePath: ":memory:"})
	assert.ErrorContains(t, err, "package name is required")

	_, err = New(context.Background(), Config{Package: "shop", StatePath: ":memory:"})
	assert.ErrorContains(t, err, "adapter type is required")
}

func TestParse_RecordsDependencies(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, shopProject))

	m, err := e.Parse(ctx)
	require.NoError(t, err)
	require.Len(t, m.Nodes, 4)
	assert.Same(t, m, e.Manifest())

	orders, ok := m.Node("orders")
	require.True(t, ok)
	assert.Equal(t, []string{
		"macro.shop.cents_to_dollars",
		"macro.utils.limit_rows",
		"macro.weft.materialization_view_default",
	}, orders.DependsOn.Macros)
	assert.Equal(t, []string{"model.shop.customers"}, orders.DependsOn.Nodes)

	customers, ok := m.Node("model.shop.customers")
	require.True(t, ok)
	assert.Equal(t, core.MaterializationTable, customers.Config.Materialized)
	assert.Equal(t, []string{"macro.weft.materialization_table_default"}, customers.DependsOn.Macros)
	assert.Empty(t, customers.DependsOn.Nodes)

	assert.Equal(t, [][]string{
		{"model.shop.customers", "model.shop.standalone_metric"},
		{"model.shop.orders"},
		{"model.shop.revenue"},
	}, m.Levels)

	saved, err := e.Store().GetMacroDependencies(ctx, orders.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, orders.DependsOn.Macros, saved)

	refs, err := e.Store().GetNodeDependencies(ctx, "model.shop.revenue")
	require.NoError(t, err)
	assert.Equal(t, []string{"model.shop.orders"}, refs)
}

func TestParse_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, shopProject))

	first, err := e.Parse(ctx)
	require.NoError(t, err)
	firstOrders, _ := first.Node("orders")
	want := append([]string(nil), firstOrders.DependsOn.Macros...)

	second, err := e.Parse(ctx)
	require.NoError(t, err)
	secondOrders, _ := second.Node("orders")
	assert.Equal(t, want, secondOrders.DependsOn.Macros)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		check func(t *testing.T, err error)
	}{
		{
			name: "unknown ref",
			files: map[string]string{
				"models/a.sql": "select * from {{ ref('missing') }}",
			},
			check: func(t *testing.T, err error) {
				var unknown *dag.UnknownNodeError
				require.ErrorAs(t, err, &unknown)
				assert.Equal(t, "model.shop.missing", unknown.Ref)
			},
		},
		{
			name: "cycle",
			files: map[string]string{
				"models/a.sql": "select * from {{ ref('b') }}",
				"models/b.sql": "select * from {{ ref('a') }}",
			},
			check: func(t *testing.T, err error) {
				var cycle *dag.CycleError
				require.ErrorAs(t, err, &cycle)
			},
		},
		{
			name: "syntax errors from every model",
			files: map[string]string{
				"models/a.sql": "select {{ 1 + }}",
				"models/b.sql": "{% if true %}select 1",
			},
			check: func(t *testing.T, err error) {
				var ce *core.CompilationError
				require.ErrorAs(t, err, &ce)
				joined, ok := err.(interface{ Unwrap() []error })
				require.True(t, ok)
				assert.Len(t, joined.Unwrap(), 2)
			},
		},
		{
			name: "unknown config key",
			files: map[string]string{
				"models/a.sql": "{{ config(colour='blue') }}select 1",
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "colour")
			},
		},
		{
			name: "unknown materialization",
			files: map[string]string{
				"models/a.sql": "{{ config(materialized='snapshot') }}select 1",
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, `no materialization "snapshot"`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, writeProject(t, tt.files))
			_, err := e.Parse(context.Background())
			require.Error(t, err)
			tt.check(t, err)
			assert.Nil(t, e.Manifest())
		})
	}
}

func TestCompile(t *testing.T) {
	files := map[string]string{
		"macros/money.sql":             moneyMacros,
		"models/customers.sql":         "select 1 as id",
		"models/orders.sql":            "select {{ cents_to_dollars('amount') }} from {{ ref('customers') }} where id >= {{ var('min_id') }} -- {{ target.name }}/{{ this }}",
		"models/reporting/summary.sql": "{{ config(schema='reporting') }}select * from {{ ref('orders') }}",
	}
	e := newTestEngine(t, writeProject(t, files))
	ctx := context.Background()

	sql, err := e.Compile(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "select (amount / 100.0) from main.customers where id >= 1 -- dev/main.orders", sql)

	_, err = e.Compile(ctx, "nope")
	var nf *ModelNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Name)

	summary, err := e.Compile(ctx, "model.shop.summary")
	require.NoError(t, err)
	assert.Equal(t, "select * from main.orders", summary)

	// Compiling never connects to the database.
	assert.Nil(t, e.db)
}

func TestCompile_AdapterBound(t *testing.T) {
	files := map[string]string{
		"models/a.sql": "select 1{% if adapter.type == 'sqlite' %} as sqlite_one{% endif %}",
		"models/b.sql": "{% if target_threads >= 2 %}select 2{% else %}select 1{% endif %}",
	}
	e := newTestEngine(t, writeProject(t, files))
	ctx := context.Background()

	_, err := e.Parse(ctx)
	require.NoError(t, err)

	sql, err := e.Compile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "select 1 as sqlite_one", sql)
	assert.Nil(t, e.db)

	// names only unbound at compile time still fail there
	_, err = e.Compile(ctx, "b")
	assert.True(t, core.IsCompilationError(err, core.KindUndefined), "got %v", err)
}

func TestRun_All(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, shopProject))

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.Equal(t, core.RunStatusCompleted, res.Run.Status)
	require.Len(t, res.Nodes, 4)

	for _, nr := range res.Nodes {
		assert.Equal(t, core.NodeRunStatusSuccess, nr.Status, nr.NodeID)
		assert.Contains(t, nr.Message, "CREATE", nr.NodeID)
		require.NotNil(t, nr.CompletedAt)
	}
	// Execution order follows the levels.
	assert.Equal(t, "model.shop.revenue", res.Nodes[3].NodeID)

	assert.Equal(t, int64(2), queryInt(t, e, "select count(*) from main.customers"))
	assert.Equal(t, int64(25), queryInt(t, e, "select cast(total as integer) from main.revenue"))

	recorded, err := e.Store().ListNodeRuns(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Len(t, recorded, 4)

	// A second run replaces the relations.
	res, err = e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Counts()[core.NodeRunStatusSuccess])
}

func TestRun_FailureSkipsDescendants(t *testing.T) {
	files := map[string]string{
		"models/broken.sql":      "{{ config(materialized='table') }}select * from no_such_table",
		"models/child.sql":       "select * from {{ ref('broken') }}",
		"models/grandchild.sql":  "select * from {{ ref('child') }}",
		"models/independent.sql": "{{ config(materialized='table') }}select 1 as id",
	}
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, files))

	res, err := e.Run(ctx, RunOptions{})
	require.Error(t, err)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "model.shop.broken", nodeErr.NodeID)

	assert.Equal(t, core.RunStatusFailed, res.Run.Status)
	assert.Equal(t, "1 model(s) failed", res.Run.Error)

	byID := make(map[string]*core.NodeRun)
	for _, nr := range res.Nodes {
		byID[nr.NodeID] = nr
	}
	assert.Equal(t, core.NodeRunStatusFailed, byID["model.shop.broken"].Status)
	assert.Contains(t, byID["model.shop.broken"].Error, "no_such_table")
	assert.Equal(t, core.NodeRunStatusSkipped, byID["model.shop.child"].Status)
	assert.Equal(t, core.NodeRunStatusSkipped, byID["model.shop.grandchild"].Status)
	assert.Contains(t, byID["model.shop.grandchild"].Message, "model.shop.broken")
	assert.Equal(t, core.NodeRunStatusSuccess, byID["model.shop.independent"].Status)

	latest, err := e.Store().LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Run.ID, latest.ID)
	assert.Equal(t, core.RunStatusFailed, latest.Status)
}

func TestRun_Select(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, shopProject))

	// Upstream relations must exist before a selected run.
	_, err := e.Run(ctx, RunOptions{Select: []string{"customers"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		opts RunOptions
		want []string
	}{
		{
			name: "single model",
			opts: RunOptions{Select: []string{"orders"}},
			want: []string{"model.shop.orders"},
		},
		{
			name: "with downstream",
			opts: RunOptions{Select: []string{"orders"}, Downstream: true},
			want: []string{"model.shop.orders", "model.shop.revenue"},
		},
		{
			name: "unique id",
			opts: RunOptions{Select: []string{"model.shop.standalone_metric"}, Threads: 1},
			want: []string{"model.shop.standalone_metric"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Run(ctx, tt.opts)
			require.NoError(t, err)
			var got []string
			for _, nr := range res.Nodes {
				got = append(got, nr.NodeID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = e.Run(ctx, RunOptions{Select: []string{"missing"}})
	var nf *ModelNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRun_Incremental(t *testing.T) {
	files := map[string]string{
		"models/events.sql": "/*---\nmaterialized: incremental\nunique_key: id\n---*/\n" +
			"select 1 as id, {% if is_incremental() %}'updated'{% else %}'initial'{% endif %} as label",
	}
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, files))

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Nodes[0].Message, "CREATE")
	assert.Equal(t, int64(0), queryInt(t, e, "select count(*) from main.events where label = 'updated'"))

	res, err = e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Nodes[0].Message, "INSERT")
	assert.Equal(t, int64(1), queryInt(t, e, "select count(*) from main.events"))
	assert.Equal(t, int64(1), queryInt(t, e, "select count(*) from main.events where label = 'updated'"))

	// A full refresh rebuilds from scratch.
	res, err = e.Run(ctx, RunOptions{FullRefresh: true})
	require.NoError(t, err)
	assert.Contains(t, res.Nodes[0].Message, "CREATE")
	assert.Equal(t, int64(0), queryInt(t, e, "select count(*) from main.events where label = 'updated'"))
}

func TestRun_ProjectMaterializationOverride(t *testing.T) {
	files := map[string]string{
		"macros/materializations.sql": "{% materialization view, adapter=sqlite -%}\n" +
			"{% statement %}drop view if exists {{ this }}{% endstatement %}\n" +
			"{% statement capture_result %}create view {{ this }} as {{ sql }}{% endstatement %}\n" +
			"{%- endmaterialization %}",
		"models/a.sql": "select 1 as id",
	}
	ctx := context.Background()
	e := newTestEngine(t, writeProject(t, files))

	m, err := e.Parse(ctx)
	require.NoError(t, err)
	a, _ := m.Node("a")
	assert.Equal(t, []string{"macro.shop.materialization_view_sqlite"}, a.DependsOn.Macros)

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Nodes[0].Message, "CREATE")
}

func TestApplyConfig(t *testing.T) {
	cfg := core.NodeConfig{Materialized: "view", Tags: []string{"old"}}
	require.NoError(t, applyConfig(&cfg, map[string]any{
		"materialized": "table",
		"tags":         []any{"daily", "finance"},
		"meta":         map[string]any{"owner": "data"},
	}))
	assert.Equal(t, "table", cfg.Materialized)
	assert.Equal(t, []string{"daily", "finance"}, cfg.Tags)
	assert.Equal(t, "data", cfg.Meta["owner"])

	assert.Error(t, applyConfig(&cfg, map[string]any{"nope": 1}))
}
