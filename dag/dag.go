// Package dag wraps a gonum directed graph with named nodes so step plans
// can be checked for ordering and rendered as Graphviz.
package dag

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type Graph struct {
	*simple.DirectedGraph
	byName map[string]*Node
}

func New() *Graph {
	return &Graph{
		DirectedGraph: simple.NewDirectedGraph(),
		byName:        make(map[string]*Node),
	}
}

// Node is a graph node carrying a unique name and DOT attributes.
type Node struct {
	graph.Node
	name  string
	attrs encoding.Attributes
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// AddNamed adds a node. Names must be unique within the graph.
func (g *Graph) AddNamed(name, label string) (*Node, error) {
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("node with name '%s' already exists", name)
	}
	n := &Node{Node: g.DirectedGraph.NewNode(), name: name}
	if err := n.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
		return nil, err
	}
	g.DirectedGraph.AddNode(n)
	g.byName[name] = n
	return n, nil
}

// Lookup returns the node registered under name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Link adds a directed edge from -> to, labelled with label.
func (g *Graph) Link(from, to, label string) error {
	f, ok := g.byName[from]
	if !ok {
		return fmt.Errorf("node %q does not exist", from)
	}
	t, ok := g.byName[to]
	if !ok {
		return fmt.Errorf("node %q does not exist", to)
	}
	if f.ID() == t.ID() {
		return fmt.Errorf("node %q cannot depend on itself", from)
	}
	e := &edge{Edge: g.DirectedGraph.NewEdge(f, t)}
	if label != "" {
		if err := e.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
			return err
		}
	}
	g.SetEdge(e)
	return nil
}

// Order returns node names in a topological order, breaking ties by
// insertion order.
func (g *Graph) Order() ([]string, error) {
	sorted, err := topo.SortStabilized(g.DirectedGraph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}
	names := make([]string, len(sorted))
	for i, n := range sorted {
		names[i] = n.(*Node).name
	}
	return names, nil
}

// Predecessors lists the names of nodes with an edge into name, sorted.
func (g *Graph) Predecessors(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	var out []string
	it := g.To(n.ID())
	for it.Next() {
		out = append(out, it.Node().(*Node).name)
	}
	sort.Strings(out)
	return out
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g.DirectedGraph, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %v", err)
	}
	return string(data), nil
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}
