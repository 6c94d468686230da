package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/weft/pkg/core"
)

func model(name string, deps ...string) *core.Node {
	n := core.NewNode(core.ResourceModel, "p", name, "models/"+name+".sql")
	for _, d := range deps {
		n.DependsOn.AddNode(core.UniqueID(core.ResourceModel, "p", d))
	}
	return n
}

func id(name string) string {
	return core.UniqueID(core.ResourceModel, "p", name)
}

func ids(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = id(n)
	}
	return out
}

// diamond: a -> b, a -> c, b -> d, c -> d
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := Build([]*core.Node{
		model("d", "b", "c"),
		model("b", "a"),
		model("c", "a"),
		model("a"),
	})
	require.NoError(t, err)
	return g
}

func TestBuild(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 4, g.EdgeCount())
	assert.Equal(t, ids("b", "c"), g.Parents(id("d")))
	assert.Equal(t, ids("b", "c"), g.Children(id("a")))

	n, ok := g.Node(id("b"))
	require.True(t, ok)
	assert.Equal(t, "b", n.Name)
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := Build([]*core.Node{model("a", "missing")})

	var unknown *UnknownNodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, id("a"), unknown.From)
	assert.Equal(t, id("missing"), unknown.Ref)
}

func TestAddEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode(model("a"))
	g.AddNode(model("b"))

	require.NoError(t, g.AddEdge(id("a"), id("b")))
	require.NoError(t, g.AddEdge(id("a"), id("b")))
	assert.Equal(t, 1, g.EdgeCount())

	assert.Error(t, g.AddEdge(id("a"), id("nope")))
	assert.Error(t, g.AddEdge(id("nope"), id("a")))

	var cycle *CycleError
	require.ErrorAs(t, g.AddEdge(id("a"), id("a")), &cycle)
	assert.Equal(t, ids("a", "a"), cycle.Path)
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*core.Node
		want  [][]string
	}{
		{
			name:  "empty",
			nodes: nil,
			want:  nil,
		},
		{
			name:  "chain",
			nodes: []*core.Node{model("c", "b"), model("b", "a"), model("a")},
			want:  [][]string{ids("a"), ids("b"), ids("c")},
		},
		{
			name:  "diamond",
			nodes: []*core.Node{model("d", "b", "c"), model("b", "a"), model("c", "a"), model("a")},
			want:  [][]string{ids("a"), ids("b", "c"), ids("d")},
		},
		{
			name:  "disconnected",
			nodes: []*core.Node{model("z"), model("y", "x"), model("x")},
			want:  [][]string{ids("x", "z"), ids("y")},
		},
		{
			name:  "uneven depth",
			nodes: []*core.Node{model("a"), model("b", "a"), model("c", "a", "b")},
			want:  [][]string{ids("a"), ids("b"), ids("c")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.nodes)
			require.NoError(t, err)

			levels, err := g.Levels()
			require.NoError(t, err)
			assert.Equal(t, tt.want, levels)
		})
	}
}

func TestTopologicalSort(t *testing.T) {
	g := diamond(t)

	nodes, err := g.TopologicalSort()
	require.NoError(t, err)

	var got []string
	for _, n := range nodes {
		got = append(got, n.UniqueID)
	}
	assert.Equal(t, ids("a", "b", "c", "d"), got)
}

func TestCycles(t *testing.T) {
	g, err := Build([]*core.Node{
		model("a", "c"),
		model("b", "a"),
		model("c", "b"),
		model("d"),
	})
	require.NoError(t, err)

	assert.Equal(t, ids("a", "b", "c", "a"), g.FindCycle())

	_, err = g.Levels()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, ids("a", "b", "c", "a"), cycle.Path)
	assert.Contains(t, err.Error(), "model.p.a -> model.p.b -> model.p.c -> model.p.a")

	_, err = g.TopologicalSort()
	assert.ErrorAs(t, err, &cycle)
}

func TestFindCycle_Acyclic(t *testing.T) {
	assert.Nil(t, diamond(t).FindCycle())
}

func TestDownstream(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, ids("a", "b", "c", "d"), g.Downstream(id("a")))
	assert.Equal(t, ids("b", "d"), g.Downstream(id("b")))
	assert.Equal(t, ids("b", "c", "d"), g.Downstream(id("b"), id("c")))
	assert.Equal(t, ids("d"), g.Downstream(id("d")))
	assert.Empty(t, g.Downstream(id("nope")))
}

func TestUpstream(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, ids("a", "b", "c"), g.Upstream(id("d")))
	assert.Equal(t, ids("a"), g.Upstream(id("b")))
	assert.Empty(t, g.Upstream(id("a")))
}

func TestRootsAndLeaves(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, ids("a"), g.Roots())
	assert.Equal(t, ids("d"), g.Leaves())
}

func TestSubgraph(t *testing.T) {
	g := diamond(t)

	sub := g.Subgraph(ids("b", "d", "nope"))
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, 1, sub.EdgeCount())
	assert.Equal(t, ids("b"), sub.Parents(id("d")))

	levels, err := sub.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{ids("b"), ids("d")}, levels)
}
