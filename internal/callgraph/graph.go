// Package callgraph renders a Database's CallSite relation as a
// Graphviz dot graph: a dense-int-node Graph/Dot pair, reusable once
// call/callee Locs are interned to dense node indices.
package callgraph

import (
	"fmt"
	"io"
)

// Graph represents a directed graph. The nodes of the graph must be
// densely numbered starting at 0.
type Graph interface {
	NumNodes() int
	Out(i int) []int
}

// IntGraph is a basic Graph where g[i] is the list of out-edge
// indexes of node i.
type IntGraph [][]int

func (g IntGraph) NumNodes() int   { return len(g) }
func (g IntGraph) Out(i int) []int { return g[i] }

// Builder accumulates (caller, callee) label pairs and assigns each
// distinct label a dense node index on first sight.
type Builder struct {
	index  map[string]int
	labels []string
	edges  map[int]map[int]struct{}
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int), edges: make(map[int]map[int]struct{})}
}

func (b *Builder) node(label string) int {
	if i, ok := b.index[label]; ok {
		return i
	}
	i := len(b.labels)
	b.index[label] = i
	b.labels = append(b.labels, label)
	b.edges[i] = make(map[int]struct{})
	return i
}

// AddEdge records a caller -> callee edge, deduplicating repeats.
func (b *Builder) AddEdge(caller, callee string) {
	ci := b.node(caller)
	ei := b.node(callee)
	b.edges[ci][ei] = struct{}{}
}

// Graph returns the accumulated IntGraph and the label for each node
// index, suitable for Dot.Fprint below.
func (b *Builder) Graph() (IntGraph, []string) {
	g := make(IntGraph, len(b.labels))
	for i := range g {
		for j := range b.edges[i] {
			g[i] = append(g[i], j)
		}
	}
	return g, b.labels
}

// Dot contains options for generating a Graphviz dot graph from a
// Graph.
type Dot struct {
	Name  string
	Label func(node int) string
}

// Fprint writes the dot form of g to w.
func (d Dot) Fprint(g Graph, w io.Writer) error {
	label := d.Label
	if label == nil {
		label = func(i int) string { return fmt.Sprintf("%d", i) }
	}
	if _, err := fmt.Fprintf(w, "digraph %s {\n", dotString(d.Name)); err != nil {
		return err
	}
	for i := 0; i < g.NumNodes(); i++ {
		if _, err := fmt.Fprintf(w, "n%d [label=%s];\n", i, dotString(label(i))); err != nil {
			return err
		}
		for _, out := range g.Out(i) {
			if _, err := fmt.Fprintf(w, "n%d -> n%d;\n", i, out); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "}\n")
	return err
}

func dotString(s string) string {
	buf := []byte{'"'}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\\', '"', '{', '}', '<', '>', '|':
			buf = append(buf, '\\', s[i])
		default:
			buf = append(buf, s[i])
		}
	}
	buf = append(buf, '"')
	return string(buf)
}
