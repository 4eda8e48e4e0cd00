// Package eventlog groups dataset rows into per-case traces.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
	"github.com/logflow/dfgflow/pkg/dataset"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Options names the columns the indexer reads.
type Options struct {
	CaseColumn      string
	ActivityColumn  string
	TimestampColumn string
}

// DefaultOptions returns the XES column conventions.
func DefaultOptions() Options {
	return Options{
		CaseColumn:      model.CaseKey,
		ActivityColumn:  model.ActivityKey,
		TimestampColumn: model.TimestampKey,
	}
}

// Indexer builds an EventLog from a Dataset. Rows sharing a case value
// form one trace; row order is event order.
type Indexer struct {
	opts   Options
	pool   *pool.Pool
	logger *slog.Logger
}

// NewIndexer creates an indexer. A nil pool runs on NumCPU workers and a
// nil logger uses slog.Default().
func NewIndexer(opts Options, p *pool.Pool, logger *slog.Logger) *Indexer {
	if p == nil {
		p = pool.New(0)
	}
	return &Indexer{
		opts:   opts,
		pool:   p,
		logger: logging.OrDefault(logger),
	}
}

// caseGroups is one worker's partial grouping of a contiguous row range.
type caseGroups struct {
	rows       map[string]*roaring.Bitmap
	activities map[string]struct{}
}

// Index partitions the dataset rows by case. Traces are ordered by the
// row index of their first event. Null case values group under "".
func (ix *Indexer) Index(ctx context.Context, d *dataset.Dataset) (*model.EventLog, error) {
	caseCol, ok := d.Column(ix.opts.CaseColumn)
	if !ok {
		return nil, dfgerr.MissingColumn(ix.opts.CaseColumn, d.ColumnNames())
	}
	actCol, _ := d.Column(ix.opts.ActivityColumn)

	n := d.NumRows()
	if uint64(n) > math.MaxUint32 {
		return nil, dfgerr.Newf(dfgerr.CodeInvalidFormat, "dataset has %d rows, more than a case index can address", n)
	}

	// Group: each worker indexes a contiguous row range into its own slot.
	partial := make([]caseGroups, ix.pool.Workers())
	err := ix.pool.ForEachRange(ctx, n, func(chunk int, r pool.Range) error {
		g := caseGroups{
			rows:       make(map[string]*roaring.Bitmap),
			activities: make(map[string]struct{}),
		}
		for row := r.Lo; row < r.Hi; row++ {
			key := caseCol.Text(row)
			bm, ok := g.rows[key]
			if !ok {
				bm = roaring.New()
				g.rows[key] = bm
			}
			bm.Add(uint32(row))

			if actCol != nil {
				if s, ok := actCol.Value(row).AsString(); ok {
					g.activities[s] = struct{}{}
				}
			}
		}
		partial[chunk] = g
		return nil
	})
	if err != nil {
		return nil, wrapCanceled("group rows by case", err)
	}

	// Merge the per-worker bitmaps.
	merged := make(map[string]*roaring.Bitmap)
	vocab := make(map[string]struct{})
	for _, g := range partial {
		for key, bm := range g.rows {
			if acc, ok := merged[key]; ok {
				acc.Or(bm)
			} else {
				merged[key] = bm
			}
		}
		for a := range g.activities {
			vocab[a] = struct{}{}
		}
	}

	type group struct {
		key   string
		first uint32
		rows  *roaring.Bitmap
	}
	groups := make([]group, 0, len(merged))
	for key, bm := range merged {
		groups = append(groups, group{key: key, first: bm.Minimum(), rows: bm})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].first < groups[j].first })

	// Populate: one task per trace, each writing only its own Trace.
	names := d.ColumnNames()
	caseIdx := -1
	for i, name := range names {
		if name == ix.opts.CaseColumn {
			caseIdx = i
			break
		}
	}

	traces := make([]*model.Trace, len(groups))
	err = ix.pool.ForEach(ctx, len(groups), func(i int) error {
		g := groups[i]
		t := &model.Trace{
			CaseID: g.key,
			Attributes: map[string]model.Value{
				model.ActivityKey: caseCol.Value(int(g.first)),
			},
			Events: make([]model.Event, 0, g.rows.GetCardinality()),
		}

		it := g.rows.Iterator()
		for it.HasNext() {
			row := int(it.Next())
			ev := make(model.Event, len(names)-1)
			for c, name := range names {
				if c == caseIdx {
					continue
				}
				ev[name] = d.ColumnAt(c).Value(row)
			}
			t.Events = append(t.Events, ev)
		}

		traces[i] = t
		return nil
	})
	if err != nil {
		return nil, wrapCanceled("populate traces", err)
	}

	activities := make([]string, 0, len(vocab))
	for a := range vocab {
		activities = append(activities, a)
	}
	sort.Strings(activities)

	log := &model.EventLog{
		Traces:       traces,
		Activities:   activities,
		ActivityKey:  ix.opts.ActivityColumn,
		TimestampKey: ix.opts.TimestampColumn,
	}

	ix.logger.Debug("indexed traces",
		"rows", n,
		"traces", len(traces),
		"activities", len(activities),
	)
	return log, nil
}

// RequireColumns fails with a missing column error for the first name the
// dataset lacks.
func RequireColumns(d *dataset.Dataset, names ...string) error {
	for _, name := range names {
		if _, ok := d.Column(name); !ok {
			return dfgerr.MissingColumn(name, d.ColumnNames())
		}
	}
	return nil
}

func wrapCanceled(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dfgerr.ContextCanceled(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
