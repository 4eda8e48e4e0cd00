// Package dfg discovers the directly-follows relation of an event log:
// which activity follows which, how often, and after how many seconds.
package dfg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Pair is an ordered directly-follows relation Act1 -> Act2.
type Pair struct {
	Act1 string
	Act2 string
}

// Less orders pairs lexicographically by Act1, then Act2.
func (p Pair) Less(q Pair) bool {
	if p.Act1 != q.Act1 {
		return p.Act1 < q.Act1
	}
	return p.Act2 < q.Act2
}

func (p Pair) String() string {
	return p.Act1 + " -> " + p.Act2
}

// Result is the aggregated relation before summarization.
type Result struct {
	// Latencies holds every observed gap, in whole seconds, per pair.
	// Observations appear in trace order, then event order.
	Latencies map[Pair][]int64

	// Start and End count the traces beginning and ending with each
	// activity.
	Start map[string]int64
	End   map[string]int64

	// Activities is the activity vocabulary of the source dataset.
	Activities []string

	// Traces is the number of traces, NonEmpty those with events.
	Traces   int
	NonEmpty int

	// Observations is the total number of adjacent event pairs.
	Observations int

	// InvalidTimestamps counts pairs whose gap defaulted to zero because
	// a timestamp was missing or not a date-time.
	InvalidTimestamps int
}

// observation is one adjacent event pair of a trace.
type observation struct {
	pair    Pair
	latency int64
}

// traceTuples is the scatter output for one trace.
type traceTuples struct {
	obs     []observation
	invalid int
}

// Aggregate extracts the directly-follows pairs of every trace. Traces
// are processed in parallel, each into its own slot; the slots are then
// merged serially in trace order.
func Aggregate(ctx context.Context, log *model.EventLog, p *pool.Pool) (*Result, error) {
	if p == nil {
		p = pool.New(0)
	}
	actKey := log.ActivityKey
	if actKey == "" {
		actKey = model.ActivityKey
	}
	tsKey := log.TimestampKey
	if tsKey == "" {
		tsKey = model.TimestampKey
	}

	// Scatter
	tuples := make([]traceTuples, len(log.Traces))
	err := p.ForEach(ctx, len(log.Traces), func(idx int) error {
		events := log.Traces[idx].Events
		if len(events) < 2 {
			return nil
		}
		out := traceTuples{obs: make([]observation, 0, len(events)-1)}
		for i := 1; i < len(events); i++ {
			prev, cur := events[i-1], events[i]
			latency, ok := Elapsed(prev.Get(tsKey), cur.Get(tsKey))
			if !ok {
				out.invalid++
			}
			out.obs = append(out.obs, observation{
				pair: Pair{
					Act1: model.ActivityLabel(prev.Get(actKey)),
					Act2: model.ActivityLabel(cur.Get(actKey)),
				},
				latency: latency,
			})
		}
		tuples[idx] = out
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, dfgerr.ContextCanceled("aggregate", err)
		}
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	// Gather
	res := &Result{
		Latencies:  make(map[Pair][]int64),
		Start:      make(map[string]int64),
		End:        make(map[string]int64),
		Activities: log.Activities,
		Traces:     len(log.Traces),
	}
	for _, tt := range tuples {
		for _, o := range tt.obs {
			res.Latencies[o.pair] = append(res.Latencies[o.pair], o.latency)
		}
		res.Observations += len(tt.obs)
		res.InvalidTimestamps += tt.invalid
	}

	for _, t := range log.Traces {
		if t.Len() == 0 {
			continue
		}
		res.NonEmpty++
		res.Start[model.ActivityLabel(t.First().Get(actKey))]++
		res.End[model.ActivityLabel(t.Last().Get(actKey))]++
	}

	return res, nil
}

// Elapsed returns the whole seconds from a to b, truncated toward zero and
// clamped at zero. ok is false, with a zero gap, when either value is not
// a timestamp.
func Elapsed(a, b model.Value) (seconds int64, ok bool) {
	ta, okA := a.AsTime()
	tb, okB := b.AsTime()
	if !okA || !okB {
		return 0, false
	}
	secs := int64(tb.Sub(ta) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return secs, true
}
