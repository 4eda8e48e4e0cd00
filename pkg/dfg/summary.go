package dfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/logflow/dfgflow/internal/pool"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Weighting selects the scalar kept per pair as its edge weight.
type Weighting string

const (
	// WeightLatency uses the median gap in seconds.
	WeightLatency Weighting = "latency"
	// WeightFrequency uses the number of observations.
	WeightFrequency Weighting = "frequency"
)

// ParseWeighting validates a weighting name. Empty means latency.
func ParseWeighting(s string) (Weighting, error) {
	switch Weighting(s) {
	case "", WeightLatency:
		return WeightLatency, nil
	case WeightFrequency:
		return WeightFrequency, nil
	default:
		return "", dfgerr.InvalidConfig("weighting", s, "unknown weighting")
	}
}

// Stats is what survives summarization of one pair.
type Stats struct {
	Median int64
	Count  int64
}

// Summary is the summarized directly-follows graph.
type Summary struct {
	Pairs      map[Pair]Stats
	Start      map[string]int64
	End        map[string]int64
	Activities []string
}

// Median returns the median of xs: the middle element for odd lengths,
// the truncated mean of the two middle elements for even lengths, and 0
// for an empty slice. xs is not modified.
func Median(xs []int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	return medianInPlace(sorted)
}

func medianInPlace(xs []int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	slices.Sort(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 1 {
		return xs[mid]
	}
	return (xs[mid-1] + xs[mid]) / 2
}

// Summarize reduces every pair's observations to its median and count.
// Pairs are reduced in parallel. The raw observation lists of r are
// released.
func Summarize(ctx context.Context, r *Result, p *pool.Pool) (*Summary, error) {
	if p == nil {
		p = pool.New(0)
	}

	pairs := make([]Pair, 0, len(r.Latencies))
	for pair := range r.Latencies {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })

	stats := make([]Stats, len(pairs))
	err := p.ForEach(ctx, len(pairs), func(i int) error {
		obs := r.Latencies[pairs[i]]
		stats[i] = Stats{
			Median: medianInPlace(obs),
			Count:  int64(len(obs)),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, dfgerr.ContextCanceled("summarize", err)
		}
		return nil, fmt.Errorf("summarize: %w", err)
	}

	s := &Summary{
		Pairs:      make(map[Pair]Stats, len(pairs)),
		Start:      r.Start,
		End:        r.End,
		Activities: r.Activities,
	}
	for i, pair := range pairs {
		s.Pairs[pair] = stats[i]
	}

	r.Latencies = nil
	return s, nil
}

// Weights returns the edge weight of every pair under w.
func (s *Summary) Weights(w Weighting) map[Pair]int64 {
	out := make(map[Pair]int64, len(s.Pairs))
	for pair, st := range s.Pairs {
		if w == WeightFrequency {
			out[pair] = st.Count
		} else {
			out[pair] = st.Median
		}
	}
	return out
}

// Edge is one summarized pair in a flat, serializable form.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Median int64  `json:"median_seconds"`
	Count  int64  `json:"count"`
}

// Edges returns the pairs sorted by source, then target.
func (s *Summary) Edges() []Edge {
	edges := make([]Edge, 0, len(s.Pairs))
	for pair, st := range s.Pairs {
		edges = append(edges, Edge{Source: pair.Act1, Target: pair.Act2, Median: st.Median, Count: st.Count})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

type summaryJSON struct {
	Activities []string         `json:"activities"`
	Edges      []Edge           `json:"edges"`
	Start      map[string]int64 `json:"start_activities"`
	End        map[string]int64 `json:"end_activities"`
}

// MarshalJSON encodes the summary with edges as a sorted list.
func (s *Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		Activities: s.Activities,
		Edges:      s.Edges(),
		Start:      s.Start,
		End:        s.End,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var w summaryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Activities = w.Activities
	s.Start = w.Start
	s.End = w.End
	if s.Start == nil {
		s.Start = make(map[string]int64)
	}
	if s.End == nil {
		s.End = make(map[string]int64)
	}
	s.Pairs = make(map[Pair]Stats, len(w.Edges))
	for _, e := range w.Edges {
		s.Pairs[Pair{Act1: e.Source, Act2: e.Target}] = Stats{Median: e.Median, Count: e.Count}
	}
	return nil
}
