package server

import (
	"sync"

	"github.com/logflow/dfgflow/pkg/pipeline"
)

// RunStore keeps the results of the most recent discovery runs.
type RunStore struct {
	mu    sync.RWMutex
	limit int
	order []string
	runs  map[string]*pipeline.Result
}

// NewRunStore creates a store that remembers at most limit runs.
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = 100
	}
	return &RunStore{
		limit: limit,
		runs:  make(map[string]*pipeline.Result),
	}
}

// Put stores a result, evicting the oldest when full.
func (s *RunStore) Put(res *pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[res.RunID]; !ok {
		s.order = append(s.order, res.RunID)
	}
	s.runs[res.RunID] = res

	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

// Get retrieves a result by run id.
func (s *RunStore) Get(id string) (*pipeline.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.runs[id]
	return res, ok
}

// List returns the stored results, newest first.
func (s *RunStore) List() []*pipeline.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pipeline.Result, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	return out
}

// Count returns the number of stored results.
func (s *RunStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
