// Package graph holds the render-ready directly-follows graph: nodes and
// edges as plain values plus the DOT attributes the renderer needs. Model
// implements gonum's graph.Directed so it can be marshalled with
// gonum.org/v1/gonum/graph/encoding/dot. Self loops are allowed.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	gg "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/iterator"
)

// NodeKind distinguishes activity nodes from the start and end markers.
type NodeKind uint8

const (
	KindActivity NodeKind = iota
	KindStart
	KindEnd
)

func (k NodeKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	default:
		return "activity"
	}
}

// Names of the synthetic start and end nodes.
const (
	StartNodeName = "@@startnode"
	EndNodeName   = "@@endnode"
)

// Node is one vertex of the model.
type Node struct {
	UID      uint64
	Kind     NodeKind
	Activity string
	Weight   int64
	Color    string
	Attrs    []encoding.Attribute
}

// ID implements gonum's graph.Node.
func (n Node) ID() int64 { return int64(n.UID) }

// DOTID names the node in DOT output.
func (n Node) DOTID() string {
	switch n.Kind {
	case KindStart:
		return StartNodeName
	case KindEnd:
		return EndNodeName
	default:
		return FormatID(n.UID)
	}
}

// Attributes implements encoding.Attributer.
func (n Node) Attributes() []encoding.Attribute { return n.Attrs }

// Attr returns the value of attribute key.
func (n Node) Attr(key string) (string, bool) { return lookup(n.Attrs, key) }

// Edge is one directed edge of the model.
type Edge struct {
	F, T     Node
	Weight   int64
	Penwidth float64
	Attrs    []encoding.Attribute
}

// From implements gonum's graph.Edge.
func (e Edge) From() gg.Node { return e.F }

// To implements gonum's graph.Edge.
func (e Edge) To() gg.Node { return e.T }

// ReversedEdge returns the receiver; edge direction is meaningful.
func (e Edge) ReversedEdge() gg.Edge { return e }

// Attributes implements encoding.Attributer.
func (e Edge) Attributes() []encoding.Attribute { return e.Attrs }

// Attr returns the value of attribute key.
func (e Edge) Attr(key string) (string, bool) { return lookup(e.Attrs, key) }

func lookup(attrs []encoding.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Attrs is a fixed attribute list.
type Attrs []encoding.Attribute

// Attributes implements encoding.Attributer.
func (a Attrs) Attributes() []encoding.Attribute { return a }

type edgeKey struct{ from, to int64 }

var _ gg.Directed = (*Model)(nil)

// Model is an immutable directed graph. Build one with a Builder.
type Model struct {
	name      string
	graphAttr Attrs
	nodeAttr  Attrs
	edgeAttr  Attrs

	nodes []Node
	index map[int64]int
	edges []Edge
	byKey map[edgeKey]int
	from  map[int64][]int64
	to    map[int64][]int64
}

// Name returns the graph name used in DOT output.
func (m *Model) Name() string { return m.name }

// DOTID implements dot.Graph.
func (m *Model) DOTID() string { return m.name }

// DOTAttributers implements dot.Attributers.
func (m *Model) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return m.graphAttr, m.nodeAttr, m.edgeAttr
}

// Node implements gonum's graph.Graph.
func (m *Model) Node(id int64) gg.Node {
	i, ok := m.index[id]
	if !ok {
		return nil
	}
	return m.nodes[i]
}

// Nodes implements gonum's graph.Graph.
func (m *Model) Nodes() gg.Nodes {
	if len(m.nodes) == 0 {
		return gg.Empty
	}
	out := make([]gg.Node, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n
	}
	return iterator.NewOrderedNodes(out)
}

// From implements gonum's graph.Graph.
func (m *Model) From(id int64) gg.Nodes { return m.adjacent(m.from[id]) }

// To implements gonum's graph.Directed.
func (m *Model) To(id int64) gg.Nodes { return m.adjacent(m.to[id]) }

func (m *Model) adjacent(ids []int64) gg.Nodes {
	if len(ids) == 0 {
		return gg.Empty
	}
	out := make([]gg.Node, len(ids))
	for i, id := range ids {
		out[i] = m.nodes[m.index[id]]
	}
	return iterator.NewOrderedNodes(out)
}

// HasEdgeBetween implements gonum's graph.Graph.
func (m *Model) HasEdgeBetween(xid, yid int64) bool {
	return m.HasEdgeFromTo(xid, yid) || m.HasEdgeFromTo(yid, xid)
}

// HasEdgeFromTo implements gonum's graph.Directed.
func (m *Model) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := m.byKey[edgeKey{uid, vid}]
	return ok
}

// Edge implements gonum's graph.Graph.
func (m *Model) Edge(uid, vid int64) gg.Edge {
	e, ok := m.EdgeBetween(uid, vid)
	if !ok {
		return nil
	}
	return e
}

// EdgeBetween returns the edge from uid to vid.
func (m *Model) EdgeBetween(uid, vid int64) (Edge, bool) {
	i, ok := m.byKey[edgeKey{uid, vid}]
	if !ok {
		return Edge{}, false
	}
	return m.edges[i], true
}

// NodeList returns all nodes in insertion order.
func (m *Model) NodeList() []Node {
	return append([]Node(nil), m.nodes...)
}

// EdgeList returns all edges in insertion order.
func (m *Model) EdgeList() []Edge {
	return append([]Edge(nil), m.edges...)
}

// Activities returns the activity nodes in insertion order.
func (m *Model) Activities() []Node {
	var out []Node
	for _, n := range m.nodes {
		if n.Kind == KindActivity {
			out = append(out, n)
		}
	}
	return out
}

// ActivityNode returns the node of an activity label.
func (m *Model) ActivityNode(label string) (Node, bool) {
	for _, n := range m.nodes {
		if n.Kind == KindActivity && n.Activity == label {
			return n, true
		}
	}
	return Node{}, false
}

// Marker returns the start or end node, if present.
func (m *Model) Marker(kind NodeKind) (Node, bool) {
	for _, n := range m.nodes {
		if n.Kind == kind {
			return n, true
		}
	}
	return Node{}, false
}

// ActivityEdges returns the edges between two activity nodes.
func (m *Model) ActivityEdges() []Edge {
	var out []Edge
	for _, e := range m.edges {
		if e.F.Kind == KindActivity && e.T.Kind == KindActivity {
			out = append(out, e)
		}
	}
	return out
}

// Builder assembles a Model. A Builder must not be reused after Build.
type Builder struct {
	m *Model
}

// NewBuilder starts a model named name.
func NewBuilder(name string) *Builder {
	return &Builder{m: &Model{
		name:  name,
		index: make(map[int64]int),
		byKey: make(map[edgeKey]int),
		from:  make(map[int64][]int64),
		to:    make(map[int64][]int64),
	}}
}

// GraphAttrs sets graph-wide, default node and default edge attributes.
func (b *Builder) GraphAttrs(graph, node, edge Attrs) *Builder {
	b.m.graphAttr, b.m.nodeAttr, b.m.edgeAttr = graph, node, edge
	return b
}

// AddNode adds n. Adding a second node with the same ID is an error.
func (b *Builder) AddNode(n Node) error {
	if _, dup := b.m.index[n.ID()]; dup {
		return fmt.Errorf("graph: duplicate node %s (%q)", n.DOTID(), n.Activity)
	}
	b.m.index[n.ID()] = len(b.m.nodes)
	b.m.nodes = append(b.m.nodes, n)
	return nil
}

// AddEdge connects two nodes already added. Both endpoints must exist and
// the pair must not already be connected.
func (b *Builder) AddEdge(from, to uint64, weight int64, penwidth float64, attrs []encoding.Attribute) error {
	fi, ok := b.m.index[int64(from)]
	if !ok {
		return fmt.Errorf("graph: unknown source node %s", FormatID(from))
	}
	ti, ok := b.m.index[int64(to)]
	if !ok {
		return fmt.Errorf("graph: unknown target node %s", FormatID(to))
	}
	key := edgeKey{int64(from), int64(to)}
	if _, dup := b.m.byKey[key]; dup {
		return fmt.Errorf("graph: duplicate edge %s -> %s", FormatID(from), FormatID(to))
	}

	b.m.byKey[key] = len(b.m.edges)
	b.m.edges = append(b.m.edges, Edge{
		F:        b.m.nodes[fi],
		T:        b.m.nodes[ti],
		Weight:   weight,
		Penwidth: penwidth,
		Attrs:    attrs,
	})
	b.m.from[key.from] = append(b.m.from[key.from], key.to)
	b.m.to[key.to] = append(b.m.to[key.to], key.from)
	return nil
}

// Build returns the finished model.
func (b *Builder) Build() *Model {
	m := b.m
	for id := range m.from {
		sortIDs(m.from[id])
	}
	for id := range m.to {
		sortIDs(m.to[id])
	}
	b.m = nil
	return m
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Quote renders s as a DOT double-quoted string.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Attr builds an attribute.
func Attr(key, value string) encoding.Attribute {
	return encoding.Attribute{Key: key, Value: value}
}

// FormatFloat formats a float attribute value without trailing zeros.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
