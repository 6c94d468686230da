package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependsOn_AddMacro(t *testing.T) {
	var d DependsOn

	assert.True(t, d.AddMacro("macro.p.a"))
	assert.True(t, d.AddMacro("macro.p.b"))
	assert.False(t, d.AddMacro("macro.p.a"))
	assert.True(t, d.AddMacro("macro.q.a"))

	assert.Equal(t, []string{"macro.p.a", "macro.p.b", "macro.q.a"}, d.Macros)
	assert.Empty(t, d.Nodes)
}

func TestDependsOn_AddNode(t *testing.T) {
	var d DependsOn
	d.AddNode("model.p.orders")
	d.AddNode("model.p.orders")
	d.AddNode("model.p.customers")
	assert.Equal(t, []string{"model.p.orders", "model.p.customers"}, d.Nodes)
}

func TestUniqueID(t *testing.T) {
	tests := []struct {
		rt   ResourceType
		pkg  string
		name string
		want string
	}{
		{ResourceModel, "analytics", "orders", "model.analytics.orders"},
		{ResourceMacro, "weft", "create_table_as", "macro.weft.create_table_as"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			id := UniqueID(tt.rt, tt.pkg, tt.name)
			assert.Equal(t, tt.want, id)

			rt, pkg, name, ok := SplitUniqueID(id)
			require.True(t, ok)
			assert.Equal(t, tt.rt, rt)
			assert.Equal(t, tt.pkg, pkg)
			assert.Equal(t, tt.name, name)
		})
	}

	_, _, _, ok := SplitUniqueID("macro.only")
	assert.False(t, ok)
}

func TestMaterializationMacroName(t *testing.T) {
	assert.Equal(t, "materialization_view_default", MaterializationMacroName("view", "default"))
	assert.Equal(t, "materialization_incremental_snowflake", MaterializationMacroName("incremental", "snowflake"))
	assert.Equal(t, "materialization_table_default", MaterializationMacroName("table", ""))
}

func TestNode_Materialized(t *testing.T) {
	n := NewNode(ResourceModel, "p", "orders", "models/orders.sql")
	assert.Equal(t, "model.p.orders", n.UniqueID)
	assert.Equal(t, MaterializationView, n.Materialized())

	n.Config.Materialized = MaterializationTable
	assert.Equal(t, MaterializationTable, n.Materialized())
}

func TestCompilationError(t *testing.T) {
	cause := errors.New("boom")
	err := &CompilationError{
		NodeID:  "model.p.orders",
		Kind:    KindEvaluation,
		Message: "boom",
		Err:     cause,
	}

	assert.Equal(t, "compilation error in model.p.orders (evaluation): boom", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("compiling: %w", err)
	assert.True(t, IsCompilationError(wrapped, KindEvaluation))
	assert.True(t, IsCompilationError(wrapped, ""))
	assert.False(t, IsCompilationError(wrapped, KindSyntax))
	assert.False(t, IsCompilationError(cause, ""))

	noLoc := &CompilationError{Kind: KindSyntax, Message: "bad"}
	assert.Equal(t, "compilation error (syntax): bad", noLoc.Error())
}
