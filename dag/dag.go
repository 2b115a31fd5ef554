// Package dag renders saga plans as directed graphs.
package dag

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// Kind distinguishes forward steps from their compensations.
type Kind string

const (
	KindStep         Kind = "step"
	KindCompensation Kind = "compensation"
)

// Graph is a directed graph of saga steps.
type Graph struct {
	*simple.DirectedGraph
	graphAttrs encoding.Attributes
	nodeAttrs  encoding.Attributes
	edgeAttrs  encoding.Attributes
}

// New creates an empty graph labelled with title.
func New(title string) *Graph {
	g := &Graph{DirectedGraph: simple.NewDirectedGraph()}
	_ = g.graphAttrs.SetAttribute(encoding.Attribute{Key: "label", Value: strconv.Quote(title)})
	_ = g.graphAttrs.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"})
	return g
}

// DOTAttributers implements dot.Attributers.
func (g *Graph) DOTAttributers() (graphAttrs, nodeAttrs, edgeAttrs encoding.Attributer) {
	return &g.graphAttrs, &g.nodeAttrs, &g.edgeAttrs
}

// Node is a step or compensation in the graph.
type Node struct {
	graph.Node
	Name  string
	Kind  Kind
	attrs encoding.Attributes
}

// Attributes implements encoding.Attributer.
func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

// Edge connects two nodes.
type Edge struct {
	simple.Edge
	attrs encoding.Attributes
}

// Attributes implements encoding.Attributer.
func (e *Edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

// Add inserts a node.
func (g *Graph) Add(name, label string, kind Kind) *Node {
	n := &Node{Node: g.NewNode(), Name: name, Kind: kind}
	_ = n.attrs.SetAttribute(encoding.Attribute{Key: "label", Value: strconv.Quote(label)})
	if kind == KindCompensation {
		_ = n.attrs.SetAttribute(encoding.Attribute{Key: "style", Value: "dashed"})
	}
	g.AddNode(n)
	return n
}

// Connect adds a labelled edge from one node to another.
func (g *Graph) Connect(from, to *Node, label string) {
	e := &Edge{Edge: simple.Edge{F: from, T: to}}
	if label != "" {
		_ = e.attrs.SetAttribute(encoding.Attribute{Key: "label", Value: strconv.Quote(label)})
	}
	g.SetEdge(e)
}

// ExportToDot exports the graph in Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, "", "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %w", err)
	}
	return string(data), nil
}
