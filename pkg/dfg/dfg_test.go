package dfg

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ev(act string, sec int) model.Event {
	return model.Event{
		model.ActivityKey:  model.String(act),
		model.TimestampKey: model.Timestamp(t0.Add(time.Duration(sec) * time.Second)),
	}
}

func trace(id string, events ...model.Event) *model.Trace {
	return &model.Trace{
		CaseID:     id,
		Attributes: map[string]model.Value{model.ActivityKey: model.String(id)},
		Events:     events,
	}
}

// scenarioLog is two traces A->B->C at 0/5/10 and 0/3/9.
func scenarioLog() *model.EventLog {
	return &model.EventLog{
		Traces: []*model.Trace{
			trace("1", ev("A", 0), ev("B", 5), ev("C", 10)),
			trace("2", ev("A", 0), ev("B", 3), ev("C", 9)),
		},
		Activities:   []string{"A", "B", "C"},
		ActivityKey:  model.ActivityKey,
		TimestampKey: model.TimestampKey,
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []int64
		want int64
	}{
		{nil, 0},
		{[]int64{7}, 7},
		{[]int64{3, 5}, 4},
		{[]int64{5, 6}, 5},
		{[]int64{9, 1, 5}, 5},
		{[]int64{10, 0, 4, 2}, 3},
	}
	for _, tt := range tests {
		if got := Median(tt.in); got != tt.want {
			t.Errorf("Median(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	in := []int64{3, 1, 2}
	Median(in)
	if in[0] != 3 {
		t.Error("Median must not reorder its input")
	}
}

func TestAggregate_Scenario(t *testing.T) {
	res, err := Aggregate(context.Background(), scenarioLog(), pool.New(2))
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	ab := res.Latencies[Pair{"A", "B"}]
	bc := res.Latencies[Pair{"B", "C"}]
	if len(ab) != 2 || ab[0] != 5 || ab[1] != 3 {
		t.Errorf("A->B = %v, want [5 3]", ab)
	}
	if len(bc) != 2 || bc[0] != 5 || bc[1] != 6 {
		t.Errorf("B->C = %v, want [5 6]", bc)
	}
	if res.Start["A"] != 2 || res.End["C"] != 2 {
		t.Errorf("start = %v, end = %v", res.Start, res.End)
	}
	if res.Observations != 4 || res.InvalidTimestamps != 0 {
		t.Errorf("observations = %d, invalid = %d", res.Observations, res.InvalidTimestamps)
	}

	sum, err := Summarize(context.Background(), res, pool.New(2))
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got := sum.Pairs[Pair{"A", "B"}]; got.Median != 4 || got.Count != 2 {
		t.Errorf("A->B stats = %+v, want median 4", got)
	}
	if got := sum.Pairs[Pair{"B", "C"}]; got.Median != 5 {
		t.Errorf("B->C stats = %+v, want median 5", got)
	}
	if res.Latencies != nil {
		t.Error("Summarize should release raw observations")
	}
}

func TestAggregate_EdgeCases(t *testing.T) {
	log := &model.EventLog{
		Traces: []*model.Trace{
			trace("empty"),
			trace("single", ev("A", 0)),
			// Negative gap clamps to zero.
			trace("backwards", ev("A", 10), ev("B", 4)),
			// Non-text activity and missing timestamp.
			trace("odd",
				model.Event{model.ActivityKey: model.Int(3), model.TimestampKey: model.Timestamp(t0)},
				model.Event{model.ActivityKey: model.String("B")},
			),
			// Self loop.
			trace("loop", ev("A", 0), ev("A", 2)),
		},
	}

	res, err := Aggregate(context.Background(), log, pool.New(3))
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if got := res.Latencies[Pair{"A", "B"}]; len(got) != 1 || got[0] != 0 {
		t.Errorf("A->B = %v, want [0]", got)
	}
	if got := res.Latencies[Pair{model.NotAString, "B"}]; len(got) != 1 || got[0] != 0 {
		t.Errorf("placeholder pair = %v", got)
	}
	if got := res.Latencies[Pair{"A", "A"}]; len(got) != 1 || got[0] != 2 {
		t.Errorf("A->A = %v, want [2]", got)
	}
	if res.InvalidTimestamps != 1 {
		t.Errorf("InvalidTimestamps = %d, want 1", res.InvalidTimestamps)
	}

	if res.Traces != 5 || res.NonEmpty != 4 {
		t.Errorf("traces = %d, non-empty = %d", res.Traces, res.NonEmpty)
	}
	var starts, ends int64
	for _, n := range res.Start {
		starts += n
	}
	for _, n := range res.End {
		ends += n
	}
	if starts != int64(res.NonEmpty) || ends != int64(res.NonEmpty) {
		t.Errorf("start sum = %d, end sum = %d, want %d", starts, ends, res.NonEmpty)
	}
}

func TestAggregate_DeterministicAcrossWorkers(t *testing.T) {
	log := &model.EventLog{}
	for i := 0; i < 500; i++ {
		var events []model.Event
		for j := 0; j < 1+i%7; j++ {
			events = append(events, ev(fmt.Sprintf("A%d", (i+j)%6), j*(i%11)))
		}
		log.Traces = append(log.Traces, trace(fmt.Sprint(i), events...))
	}

	summarize := func(workers int) *Summary {
		p := pool.New(workers)
		res, err := Aggregate(context.Background(), log, p)
		if err != nil {
			t.Fatal(err)
		}
		s, err := Summarize(context.Background(), res, p)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	ref := summarize(1)
	for _, workers := range []int{2, 8} {
		got := summarize(workers)
		if len(got.Pairs) != len(ref.Pairs) {
			t.Fatalf("workers=%d: %d pairs, want %d", workers, len(got.Pairs), len(ref.Pairs))
		}
		for pair, st := range ref.Pairs {
			if got.Pairs[pair] != st {
				t.Errorf("workers=%d: %s = %+v, want %+v", workers, pair, got.Pairs[pair], st)
			}
		}
	}
}

func TestAggregate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Aggregate(ctx, scenarioLog(), pool.New(1)); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestSummary_WeightsAndJSON(t *testing.T) {
	res, err := Aggregate(context.Background(), scenarioLog(), nil)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := Summarize(context.Background(), res, nil)
	if err != nil {
		t.Fatal(err)
	}

	lat := sum.Weights(WeightLatency)
	freq := sum.Weights(WeightFrequency)
	if lat[Pair{"A", "B"}] != 4 || freq[Pair{"A", "B"}] != 2 {
		t.Errorf("latency = %v, frequency = %v", lat, freq)
	}

	data, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Summary
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back.Pairs) != 2 || back.Pairs[Pair{"B", "C"}].Median != 5 || back.Start["A"] != 2 {
		t.Errorf("decoded = %+v", back)
	}

	edges := sum.Edges()
	if edges[0].Source != "A" || edges[1].Source != "B" {
		t.Errorf("edges not sorted: %+v", edges)
	}
}

func TestParseWeighting(t *testing.T) {
	if w, err := ParseWeighting(""); err != nil || w != WeightLatency {
		t.Errorf("ParseWeighting(\"\") = %q, %v", w, err)
	}
	if w, err := ParseWeighting("frequency"); err != nil || w != WeightFrequency {
		t.Errorf("ParseWeighting(frequency) = %q, %v", w, err)
	}
	if _, err := ParseWeighting("mean"); err == nil {
		t.Error("expected error for unknown weighting")
	}
}
