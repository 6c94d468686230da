// Package dag provides the dependency graph used to order model builds.
package dag

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/weft/pkg/core"
)

// Graph is a directed graph of nodes keyed by unique ID. An edge points
// from a parent to the node that depends on it.
type Graph struct {
	nodes    map[string]*core.Node
	children map[string][]string
	parents  map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*core.Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Build creates a graph from nodes, adding an edge for every entry in
// DependsOn.Nodes. A dependency on an ID that is not in nodes fails with
// an UnknownNodeError.
func Build(nodes []*core.Node) (*Graph, error) {
	g := NewGraph()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn.Nodes {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownNodeError{From: n.UniqueID, Ref: dep}
			}
			if err := g.AddEdge(dep, n.UniqueID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddNode adds a node, replacing any node with the same ID.
func (g *Graph) AddNode(n *core.Node) {
	g.nodes[n.UniqueID] = n
}

// AddEdge records that child depends on parent. Duplicate edges are ignored.
func (g *Graph) AddEdge(parent, child string) error {
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("parent node %q not found", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("child node %q not found", child)
	}
	if parent == child {
		return &CycleError{Path: []string{parent, parent}}
	}
	if slices.Contains(g.children[parent], child) {
		return nil
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*core.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the sorted IDs of the direct dependencies of id.
func (g *Graph) Parents(id string) []string {
	return sorted(g.parents[id])
}

// Children returns the sorted IDs of the direct dependents of id.
func (g *Graph) Children(id string) []string {
	return sorted(g.children[id])
}

// IDs returns every node ID in lexical order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, c := range g.children {
		count += len(c)
	}
	return count
}

// FindCycle returns a cycle as a path that starts and ends with the same
// ID, or nil when the graph is acyclic. Nodes are visited in lexical
// order so the reported cycle is stable.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = active
		stack = append(stack, id)
		for _, child := range g.Children(id) {
			switch state[child] {
			case active:
				start := slices.Index(stack, child)
				cycle := slices.Clone(stack[start:])
				return append(cycle, child)
			case unvisited:
				if cycle := visit(child); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.IDs() {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Levels groups nodes into waves: every node's dependencies sit in an
// earlier wave, so the nodes of one wave can be built concurrently. IDs
// within a wave are sorted.
func (g *Graph) Levels() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.parents[id])
	}

	var current []string
	for _, id := range g.IDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for _, child := range g.children[id] {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		slices.Sort(next)
		current = next
	}
	return levels, nil
}

// TopologicalSort returns all nodes with every dependency ahead of its
// dependents. The order is deterministic: waves in order, IDs sorted
// within a wave.
func (g *Graph) TopologicalSort() ([]*core.Node, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]*core.Node, 0, len(g.nodes))
	for _, level := range levels {
		for _, id := range level {
			out = append(out, g.nodes[id])
		}
	}
	return out, nil
}

// Downstream returns the given IDs plus everything that transitively
// depends on them, sorted. Unknown IDs are ignored.
func (g *Graph) Downstream(ids ...string) []string {
	return g.walk(ids, g.children)
}

// Upstream returns everything id transitively depends on, sorted and
// excluding id itself.
func (g *Graph) Upstream(id string) []string {
	all := g.walk([]string{id}, g.parents)
	return slices.DeleteFunc(all, func(s string) bool { return s == id })
}

func (g *Graph) walk(start []string, edges map[string][]string) []string {
	seen := make(map[string]bool)
	queue := make([]string, 0, len(start))
	for _, id := range start {
		if _, ok := g.nodes[id]; ok && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range edges[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Roots returns the sorted IDs of nodes without dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.IDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns the sorted IDs of nodes nothing depends on.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.IDs() {
		if len(g.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a graph holding only the given nodes and the edges
// between them.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := NewGraph()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			sub.AddNode(n)
			keep[id] = true
		}
	}
	for id := range keep {
		for _, child := range g.children[id] {
			if keep[child] {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func sorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// CycleError reports a dependency cycle. Path starts and ends with the
// same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// UnknownNodeError is returned when a node references an ID the graph
// does not contain.
type UnknownNodeError struct {
	From string
	Ref  string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s depends on unknown node %s", e.From, e.Ref)
}
