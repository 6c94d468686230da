package starlark

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/weft/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestBuildConfigDict(t *testing.T) {
	d := BuildConfigDict("my_model", core.NodeConfig{
		Materialized: "incremental",
		UniqueKey:    "id",
		Schema:       "analytics",
		Tags:         []string{"finance", "metrics"},
		Meta:         map[string]any{"priority": "high"},
	})
	require.NotNil(t, d, "BuildConfigDict returned nil")

	nameVal, found, _ := d.Get(starlark.String("name"))
	assert.True(t, found, "name not found in dict")
	assert.Equal(t, `"my_model"`, nameVal.String(), "name value")

	matlVal, found, _ := d.Get(starlark.String("materialized"))
	assert.True(t, found, "materialized not found in dict")
	assert.Equal(t, `"incremental"`, matlVal.String(), "materialized value")

	tagsVal, found, _ := d.Get(starlark.String("tags"))
	assert.True(t, found, "tags not found in dict")
	tagsList, ok := tagsVal.(*starlark.List)
	require.True(t, ok, "tags is not a list: %T", tagsVal)
	assert.Equal(t, 2, tagsList.Len(), "tags length")

	metaVal, found, _ := d.Get(starlark.String("meta"))
	assert.True(t, found, "meta not found in dict")
	metaDict, ok := metaVal.(*starlark.Dict)
	require.True(t, ok, "meta is not a dict: %T", metaVal)
	priorityVal, found, _ := metaDict.Get(starlark.String("priority"))
	assert.True(t, found, "meta.priority not found")
	assert.Equal(t, `"high"`, priorityVal.String(), "meta.priority value")
}

func TestBuildConfigDict_Empty(t *testing.T) {
	d := BuildConfigDict("", core.NodeConfig{})
	assert.Equal(t, 0, d.Len(), "expected empty dict")
}

func TestPredeclared(t *testing.T) {
	config := starlark.NewDict(1)
	require.NoError(t, config.SetKey(starlark.String("name"), starlark.String("test")))

	globals := Predeclared(config, "dev",
		&TargetInfo{Type: "duckdb", Schema: "main"},
		&ThisInfo{Name: "my_model", Schema: "analytics"})

	for _, key := range []string{"config", "env", "target", "this"} {
		_, ok := globals[key]
		assert.True(t, ok, "%s not found in globals", key)
	}
	assert.Equal(t, `"dev"`, globals["env"].String(), "env value")
}

func TestPredeclared_NilTarget(t *testing.T) {
	globals := Predeclared(nil, "prod", nil, nil)

	_, ok := globals["config"]
	assert.True(t, ok, "config not found in globals")
	_, ok = globals["target"]
	assert.False(t, ok, "target should not be in globals when nil")
	_, ok = globals["this"]
	assert.False(t, ok, "this should not be in globals when nil")
}

func TestIsBuiltinName(t *testing.T) {
	for _, name := range []string{"ref", "var", "config", "adapter", "execute", "statement_result_callback"} {
		assert.True(t, IsBuiltinName(name), name)
	}
	assert.False(t, IsBuiltinName("cents_to_dollars"))
}

func TestConfigValue(t *testing.T) {
	var calls []map[string]any
	d := BuildConfigDict("orders", core.NodeConfig{Materialized: "view"})
	ctx := NewContext(d, "dev", nil, nil, WithConfigHook(func(updates map[string]any) error {
		calls = append(calls, updates)
		return nil
	}))

	tests := []struct {
		expr string
		want string
	}{
		{`config["materialized"]`, "view"},
		{`config.get("schema", "default_schema")`, "default_schema"},
		{`config(materialized="table", unique_key="id")`, ""},
		{`config["materialized"]`, "table"},
		{`config({"schema": "marts"})`, ""},
		{`config.get("schema")`, "marts"},
		{`str(sorted(config.keys()))`, `["materialized", "name", "schema", "unique_key"]`},
	}
	for _, tt := range tests {
		got, err := ctx.EvalExprString(tt.expr, "orders.sql", 1)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}

	assert.Equal(t, []map[string]any{
		{"materialized": "table", "unique_key": "id"},
		{"schema": "marts"},
	}, calls)
}

func TestConfigValue_Errors(t *testing.T) {
	ctx := NewContext(nil, "dev", nil, nil)

	for _, expr := range []string{
		`config("table")`,
		`config({}, {})`,
		`config({1: "x"})`,
		`config.set`,
	} {
		_, err := ctx.EvalExpr(expr, "x.sql", 1)
		assert.Error(t, err, expr)
	}
}

func TestRefBuiltin(t *testing.T) {
	type call struct{ pkg, name string }
	var calls []call
	ctx := NewContext(nil, "dev", nil, nil, WithRef(func(pkg, name string) (starlark.Value, error) {
		calls = append(calls, call{pkg, name})
		return &Relation{Schema: "main", Identifier: name}, nil
	}))

	got, err := ctx.EvalExprString(`ref("customers")`, "x.sql", 1)
	require.NoError(t, err)
	assert.Equal(t, "main.customers", got)

	got, err = ctx.EvalExprString(`ref("shop", "orders")`, "x.sql", 1)
	require.NoError(t, err)
	assert.Equal(t, "main.orders", got)

	assert.Equal(t, []call{{"", "customers"}, {"shop", "orders"}}, calls)

	_, err = ctx.EvalExpr(`ref()`, "x.sql", 1)
	assert.Error(t, err)
}

func TestRefBuiltin_UnboundWithoutResolver(t *testing.T) {
	ctx := NewContext(nil, "dev", nil, nil)
	assert.False(t, ctx.Has("ref"))
}

func TestVarBuiltin(t *testing.T) {
	ctx := NewContext(nil, "dev", nil, nil, WithVars(map[string]any{
		"start_date": "2024-01-01",
		"limit":      10,
	}))

	tests := []struct {
		expr    string
		want    string
		wantErr string
	}{
		{expr: `var("start_date")`, want: "2024-01-01"},
		{expr: `var("limit") + 1`, want: "11"},
		{expr: `var("missing", "fallback")`, want: "fallback"},
		{expr: `var("missing", default=None)`, want: ""},
		{expr: `var("missing")`, wantErr: `required var "missing" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ctx.EvalExprString(tt.expr, "x.sql", 1)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsIncrementalBuiltin(t *testing.T) {
	for _, incremental := range []bool{false, true} {
		ctx := NewContext(nil, "dev", nil, nil, WithIncremental(incremental))
		v, err := ctx.EvalExpr(`is_incremental()`, "x.sql", 1)
		require.NoError(t, err)
		assert.Equal(t, starlark.Bool(incremental), v)
	}
}

func TestLogBuiltin(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	thread, stop := NewThread(context.Background(), "model.shop.orders", ThreadOptions{Logger: logger})
	defer stop()

	ctx := NewContext(nil, "dev", nil, nil)
	v, err := ctx.EvalExprWithLocals(thread, `log("building " + env, info=True)`, "x.sql", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.String(""), v)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="building dev"`)
	assert.Contains(t, out, "thread=model.shop.orders")
}
