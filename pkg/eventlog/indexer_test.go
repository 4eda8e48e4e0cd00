package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
	"github.com/logflow/dfgflow/pkg/dataset"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func row(caseID, act string, sec int) []model.Value {
	return []model.Value{
		model.String(caseID),
		model.String(act),
		model.Timestamp(base.Add(time.Duration(sec) * time.Second)),
	}
}

func buildDataset(t *testing.T, rows [][]model.Value) *dataset.Dataset {
	t.Helper()
	d, err := dataset.FromRows([]string{model.CaseKey, model.ActivityKey, model.TimestampKey}, rows)
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func newIndexer(workers int) *Indexer {
	return NewIndexer(DefaultOptions(), pool.New(workers), logging.Discard())
}

func TestIndex_GroupsAndOrders(t *testing.T) {
	d := buildDataset(t, [][]model.Value{
		row("c2", "A", 0),
		row("c1", "A", 0),
		row("c2", "B", 3),
		row("c1", "B", 5),
		row("c2", "C", 9),
	})

	log, err := newIndexer(2).Index(context.Background(), d)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	if len(log.Traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(log.Traces))
	}
	// Ordered by first row: c2 appears at row 0.
	if log.Traces[0].CaseID != "c2" || log.Traces[1].CaseID != "c1" {
		t.Errorf("trace order = %s, %s", log.Traces[0].CaseID, log.Traces[1].CaseID)
	}

	c2 := log.Traces[0]
	if c2.Len() != 3 {
		t.Fatalf("c2 events = %d, want 3", c2.Len())
	}
	for i, want := range []string{"A", "B", "C"} {
		if got := model.ActivityLabel(c2.Events[i].Get(model.ActivityKey)); got != want {
			t.Errorf("c2 event %d = %s, want %s", i, got, want)
		}
	}

	if _, ok := c2.First()[model.CaseKey]; ok {
		t.Error("events must not carry the case column")
	}
	if name, _ := c2.Attributes[model.ActivityKey].AsString(); name != "c2" {
		t.Errorf("trace name attribute = %q, want c2", name)
	}

	if got := len(log.Activities); got != 3 {
		t.Errorf("activities = %v", log.Activities)
	}
	if log.NumEvents() != 5 {
		t.Errorf("NumEvents = %d, want 5", log.NumEvents())
	}
}

func TestIndex_MissingCaseColumn(t *testing.T) {
	d, err := dataset.FromRows([]string{"id", model.ActivityKey}, [][]model.Value{
		{model.String("1"), model.String("A")},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	_, err = newIndexer(1).Index(context.Background(), d)
	if !dfgerr.IsCode(err, dfgerr.CodeMissingColumn) {
		t.Errorf("err = %v, want E104", err)
	}
}

func TestIndex_NullCaseGroup(t *testing.T) {
	d := buildDataset(t, [][]model.Value{
		row("c1", "A", 0),
		{model.Null, model.String("X"), model.Timestamp(base)},
		{model.Null, model.String("Y"), model.Timestamp(base)},
	})

	log, err := newIndexer(1).Index(context.Background(), d)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(log.Traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(log.Traces))
	}
	null := log.Traces[1]
	if null.CaseID != "" || null.Len() != 2 {
		t.Errorf("null group = %q with %d events", null.CaseID, null.Len())
	}
}

func TestIndex_DeterministicAcrossWorkers(t *testing.T) {
	var rows [][]model.Value
	for i := 0; i < 2000; i++ {
		rows = append(rows, row(fmt.Sprintf("c%d", i%37), fmt.Sprintf("A%d", i%5), i))
	}
	d := buildDataset(t, rows)

	ref, err := newIndexer(1).Index(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}

	for _, workers := range []int{2, 4, 16} {
		got, err := newIndexer(workers).Index(context.Background(), d)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Traces) != len(ref.Traces) {
			t.Fatalf("workers=%d: traces = %d, want %d", workers, len(got.Traces), len(ref.Traces))
		}
		for i := range ref.Traces {
			a, b := ref.Traces[i], got.Traces[i]
			if a.CaseID != b.CaseID || a.Len() != b.Len() {
				t.Fatalf("workers=%d: trace %d = %s/%d, want %s/%d", workers, i, b.CaseID, b.Len(), a.CaseID, a.Len())
			}
			for j := range a.Events {
				ta, _ := a.Events[j].Get(model.TimestampKey).AsTime()
				tb, _ := b.Events[j].Get(model.TimestampKey).AsTime()
				if !ta.Equal(tb) {
					t.Fatalf("workers=%d: trace %s event %d differs", workers, a.CaseID, j)
				}
			}
		}
	}
}

func TestIndex_Canceled(t *testing.T) {
	d := buildDataset(t, [][]model.Value{row("c1", "A", 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newIndexer(2).Index(ctx, d)
	if !dfgerr.IsCode(err, dfgerr.CodeContextCanceled) {
		t.Errorf("err = %v, want E401", err)
	}
}

func TestRequireColumns(t *testing.T) {
	d := buildDataset(t, [][]model.Value{row("c1", "A", 0)})
	if err := RequireColumns(d, model.CaseKey, model.ActivityKey); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := RequireColumns(d, "resource"); !dfgerr.IsCode(err, dfgerr.CodeMissingColumn) {
		t.Errorf("err = %v, want E104", err)
	}
}
