// Package encoder turns a summarized directly-follows graph into a bounded,
// render-ready graph.Model: it keeps the heaviest edges, scales edge
// widths and node fill colors, and assigns content-addressed node IDs.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/encoding"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/pkg/dfg"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/graph"
)

const (
	// DefaultMaxEdges is the number of edges kept after pruning.
	DefaultMaxEdges = 30

	MinPenwidth = 1.0
	MaxPenwidth = 2.6

	// epsilon keeps the scaling denominators positive when all values
	// are equal.
	epsilon = 1e-5

	fontSize      = "12"
	startFontSize = "34"
	endFontSize   = "32"
	startLabel    = "<&#9679;>"
	endLabel      = "<&#9632;>"
)

// Options configures encoding.
type Options struct {
	// MaxEdges caps the retained edges. Default: 30.
	MaxEdges int

	// Weighting selects the edge weight. Default: latency.
	Weighting dfg.Weighting

	// Name is the DOT graph name. Default: "dfg".
	Name string
}

// DefaultOptions returns the standard encoding options.
func DefaultOptions() Options {
	return Options{
		MaxEdges:  DefaultMaxEdges,
		Weighting: dfg.WeightLatency,
		Name:      "dfg",
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.MaxEdges <= 0 {
		return dfgerr.InvalidConfig("max_edges", o.MaxEdges, "must be positive")
	}
	if _, err := dfg.ParseWeighting(string(o.Weighting)); err != nil {
		return err
	}
	return nil
}

// WeightedPair is a pair with its edge weight.
type WeightedPair struct {
	Pair   dfg.Pair
	Weight int64
}

// Encoder builds graph models. Its ID table grows with every label it
// sees, so long-lived callers should create one Encoder per model.
type Encoder struct {
	opts   Options
	ids    *graph.IDTable
	logger *slog.Logger
}

// New creates an encoder. A nil ID table gets a fresh one.
func New(opts Options, ids *graph.IDTable, logger *slog.Logger) *Encoder {
	if opts.MaxEdges == 0 {
		opts.MaxEdges = DefaultMaxEdges
	}
	if opts.Weighting == "" {
		opts.Weighting = dfg.WeightLatency
	}
	if opts.Name == "" {
		opts.Name = "dfg"
	}
	if ids == nil {
		ids = graph.NewIDTable()
	}
	return &Encoder{opts: opts, ids: ids, logger: logging.OrDefault(logger)}
}

// Options returns the effective options.
func (e *Encoder) Options() Options { return e.opts }

// Encode builds the graph model of s.
func (e *Encoder) Encode(ctx context.Context, s *dfg.Summary) (*graph.Model, error) {
	if err := e.opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, dfgerr.ContextCanceled("encode", err)
	}

	weights := s.Weights(e.opts.Weighting)
	activityWeight := ActivityWeights(s.Activities, weights, s.Start)

	ranked := Rank(weights)
	retained := Prune(ranked, e.opts.MaxEdges)
	penwidth := Penwidths(retained)

	vertices := Vertices(retained)
	colors := Colors(vertices, activityWeight)

	b := graph.NewBuilder(e.opts.Name).GraphAttrs(
		graph.Attrs{graph.Attr("bgcolor", "transparent"), graph.Attr("overlap", "false")},
		graph.Attrs{graph.Attr("shape", "box")},
		nil,
	)

	nodeID := make(map[string]uint64, len(vertices))
	for _, act := range vertices {
		id := e.ids.Activity(act)
		nodeID[act] = id
		w := activityWeight[act]
		err := b.AddNode(graph.Node{
			UID:      id,
			Kind:     graph.KindActivity,
			Activity: act,
			Weight:   w,
			Color:    colors[act],
			Attrs: []encoding.Attribute{
				graph.Attr("label", graph.Quote(fmt.Sprintf("%s (%d)", act, w))),
				graph.Attr("style", "filled"),
				graph.Attr("fillcolor", graph.Quote(colors[act])),
				graph.Attr("fontsize", fontSize),
			},
		})
		if err != nil {
			return nil, dfgerr.Wrap(err, dfgerr.CodeUnknown, "encode node")
		}
	}

	edges := slices.Clone(retained)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Pair.Less(edges[j].Pair) })
	for _, wp := range edges {
		pw := penwidth[wp.Pair]
		err := b.AddEdge(nodeID[wp.Pair.Act1], nodeID[wp.Pair.Act2], wp.Weight, pw, []encoding.Attribute{
			graph.Attr("label", strconv.FormatInt(wp.Weight, 10)),
			graph.Attr("penwidth", graph.FormatFloat(pw)),
			graph.Attr("fontsize", fontSize),
		})
		if err != nil {
			return nil, dfgerr.Wrap(err, dfgerr.CodeUnknown, "encode edge")
		}
	}

	if err := e.addMarker(b, graph.KindStart, s.Start, nodeID); err != nil {
		return nil, err
	}
	if err := e.addMarker(b, graph.KindEnd, s.End, nodeID); err != nil {
		return nil, err
	}

	e.logger.Debug("encoded graph",
		"pairs", len(weights),
		"retained", len(retained),
		"nodes", len(vertices),
		"weighting", string(e.opts.Weighting),
	)
	return b.Build(), nil
}

// addMarker adds the start or end node and its edges to the tallied
// activities that are present among the retained nodes. Nothing is added
// when no tallied activity qualifies.
func (e *Encoder) addMarker(b *graph.Builder, kind graph.NodeKind, tally map[string]int64, nodeID map[string]uint64) error {
	var acts []string
	for act := range tally {
		if _, ok := nodeID[act]; ok {
			acts = append(acts, act)
		}
	}
	if len(acts) == 0 {
		return nil
	}
	sort.Strings(acts)

	name, label, shape, size := graph.StartNodeName, startLabel, "circle", startFontSize
	if kind == graph.KindEnd {
		name, label, shape, size = graph.EndNodeName, endLabel, "doublecircle", endFontSize
	}
	id := e.ids.Pseudo(name)
	err := b.AddNode(graph.Node{
		UID:  id,
		Kind: kind,
		Attrs: []encoding.Attribute{
			graph.Attr("label", label),
			graph.Attr("shape", shape),
			graph.Attr("fontsize", size),
		},
	})
	if err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeUnknown, "encode "+kind.String()+" node")
	}

	for _, act := range acts {
		from, to := id, nodeID[act]
		if kind == graph.KindEnd {
			from, to = nodeID[act], id
		}
		err := b.AddEdge(from, to, tally[act], 0, []encoding.Attribute{
			graph.Attr("label", strconv.FormatInt(tally[act], 10)),
			graph.Attr("fontsize", fontSize),
		})
		if err != nil {
			return dfgerr.Wrap(err, dfgerr.CodeUnknown, "encode "+kind.String()+" edge")
		}
	}
	return nil
}

// ActivityWeights starts every vocabulary label at zero, adds each pair's
// weight to its target and then the start tallies.
func ActivityWeights(vocabulary []string, weights map[dfg.Pair]int64, start map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(vocabulary))
	for _, act := range vocabulary {
		out[act] = 0
	}
	for pair, w := range weights {
		out[pair.Act2] += w
	}
	for act, n := range start {
		out[act] += n
	}
	return out
}

// Rank orders pairs by weight descending. Ties break on Act1 descending,
// then Act2 descending.
func Rank(weights map[dfg.Pair]int64) []WeightedPair {
	out := make([]WeightedPair, 0, len(weights))
	for pair, w := range weights {
		out = append(out, WeightedPair{Pair: pair, Weight: w})
	}
	slices.SortFunc(out, func(a, b WeightedPair) int {
		switch {
		case a.Weight != b.Weight:
			if a.Weight > b.Weight {
				return -1
			}
			return 1
		case a.Pair.Act1 != b.Pair.Act1:
			return -strings.Compare(a.Pair.Act1, b.Pair.Act1)
		default:
			return -strings.Compare(a.Pair.Act2, b.Pair.Act2)
		}
	})
	return out
}

// Prune keeps the first k ranked pairs.
func Prune(ranked []WeightedPair, k int) []WeightedPair {
	if k < len(ranked) {
		return ranked[:k]
	}
	return ranked
}

// Penwidths maps each retained weight linearly onto [MinPenwidth,
// MaxPenwidth].
func Penwidths(retained []WeightedPair) map[dfg.Pair]float64 {
	out := make(map[dfg.Pair]float64, len(retained))
	if len(retained) == 0 {
		return out
	}
	lo, hi := retained[0].Weight, retained[0].Weight
	for _, wp := range retained {
		lo = min(lo, wp.Weight)
		hi = max(hi, wp.Weight)
	}
	for _, wp := range retained {
		out[wp.Pair] = MinPenwidth + (MaxPenwidth-MinPenwidth)*scale(wp.Weight, lo, hi)
	}
	return out
}

// Vertices returns the sorted activities touched by the retained edges.
func Vertices(retained []WeightedPair) []string {
	seen := make(map[string]struct{}, 2*len(retained))
	for _, wp := range retained {
		seen[wp.Pair.Act1] = struct{}{}
		seen[wp.Pair.Act2] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for act := range seen {
		out = append(out, act)
	}
	sort.Strings(out)
	return out
}

// Colors assigns each vertex a fill color from near-white (lightest
// weight) toward a blue-gray (heaviest weight).
func Colors(vertices []string, weight map[string]int64) map[string]string {
	out := make(map[string]string, len(vertices))
	if len(vertices) == 0 {
		return out
	}
	lo, hi := weight[vertices[0]], weight[vertices[0]]
	for _, act := range vertices {
		lo = min(lo, weight[act])
		hi = max(hi, weight[act])
	}
	for _, act := range vertices {
		out[act] = Color(Channel(weight[act], lo, hi))
	}
	return out
}

// Channel returns the shared red/green channel for v within [lo, hi]:
// 255 at lo down to 155 at hi.
func Channel(v, lo, hi int64) int {
	return int(math.Round(255 - 100*scale(v, lo, hi)))
}

// Color formats a channel as #RRGGBB with equal red and green and full
// blue.
func Color(channel int) string {
	return fmt.Sprintf("#%02X%02XFF", channel, channel)
}

func scale(v, lo, hi int64) float64 {
	return (float64(v) - float64(lo)) / (float64(hi) - float64(lo) + epsilon)
}
