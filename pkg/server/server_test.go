package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/dfg"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/graph"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

const scenarioCSV = `case:concept:name,concept:name,time:timestamp
1,A,2024-01-01 00:00:00
1,B,2024-01-01 00:00:05
1,C,2024-01-01 00:00:10
2,A,2024-01-01 00:00:00
2,B,2024-01-01 00:00:03
2,C,2024-01-01 00:00:09
`

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, *graph.Model, render.Format, io.Writer) error {
	return dfgerr.New(dfgerr.CodeEngineUnavailable, "dot not found")
}

func newTestServer(t *testing.T, renderer render.Renderer, maxBody int64) *Server {
	t.Helper()
	defaults, err := pipeline.FromConfig(config.Default())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	defaults.Output = ""
	defaults.Format = ""

	metrics := telemetry.NewMetrics()
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Renderer: renderer,
		Metrics:  metrics,
		Logger:   logging.Discard(),
	})
	return New(Deps{
		Orchestrator:  orch,
		Metrics:       metrics,
		Defaults:      defaults,
		MaxUploadSize: maxBody,
		Logger:        logging.Discard(),
		Version:       "test",
	})
}

func post(s *Server, query, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/dfg"+query, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("Expected body ok, got %q", w.Body.String())
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Error("Expected a request id header")
	}
}

func TestServer_RequestIDPropagated(t *testing.T) {
	s := newTestServer(t, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}

func TestServer_DiscoverDOT(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := post(s, "?format=dot", scenarioCSV)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/vnd.graphviz" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"strict digraph", `label="C (5)"`, "@@startnode"} {
		if !strings.Contains(body, want) {
			t.Errorf("DOT missing %q:\n%s", want, body)
		}
	}
	if w.Header().Get("X-Run-Id") == "" {
		t.Error("Expected X-Run-Id header")
	}
}

func TestServer_DiscoverJSON(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := post(s, "?format=json", scenarioCSV)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var summary dfg.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if st := summary.Pairs[dfg.Pair{Act1: "A", Act2: "B"}]; st.Median != 4 || st.Count != 2 {
		t.Errorf("pair (A,B) = %+v", st)
	}
}

func TestServer_RepeatedUploadsKeepContentIDs(t *testing.T) {
	s := newTestServer(t, nil, 0)

	for i := 0; i < 50; i++ {
		body := fmt.Sprintf("case:concept:name,concept:name,time:timestamp\n"+
			"1,A%d,2024-01-01 00:00:00\n1,B%d,2024-01-01 00:00:05\n", i, i)
		if w := post(s, "?format=dot", body); w.Code != http.StatusOK {
			t.Fatalf("upload %d: Expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := post(s, "?format=dot", scenarioCSV)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	for _, label := range []string{"A", "B", "C"} {
		id := graph.FormatID(graph.Hash(graph.TagActivity, label))
		if !strings.Contains(w.Body.String(), id) {
			t.Errorf("DOT missing content ID %s for %q:\n%s", id, label, w.Body.String())
		}
	}
}

func TestServer_NumericActivities(t *testing.T) {
	s := newTestServer(t, nil, 0)

	body := "case:concept:name,concept:name,time:timestamp\n" +
		"1,10,2024-01-01 00:00:00\n1,20,2024-01-01 00:00:05\n1,30,2024-01-01 00:00:10\n"
	w := post(s, "?format=json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary dfg.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(summary.Activities) != 3 {
		t.Errorf("activities = %v", summary.Activities)
	}
	for _, p := range []dfg.Pair{{Act1: "10", Act2: "20"}, {Act1: "20", Act2: "30"}} {
		if st, ok := summary.Pairs[p]; !ok || st.Count != 1 {
			t.Errorf("pair %v = %+v, %v", p, st, ok)
		}
	}
	if _, ok := summary.Pairs[dfg.Pair{Act1: "NOT A STRING", Act2: "NOT A STRING"}]; ok {
		t.Error("numeric activities collapsed to the non-text placeholder")
	}
}

func TestServer_CustomColumns(t *testing.T) {
	s := newTestServer(t, nil, 0)
	csv := "id,step,at\n1,X,2024-01-01 00:00:00\n1,Y,2024-01-01 00:00:07\n"

	w := post(s, "?format=json&case=id&activity=step&timestamp=at", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary dfg.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if st := summary.Pairs[dfg.Pair{Act1: "X", Act2: "Y"}]; st.Median != 7 {
		t.Errorf("pair (X,Y) = %+v", st)
	}
}

func TestServer_BadRequests(t *testing.T) {
	s := newTestServer(t, nil, 0)

	tests := []struct {
		name  string
		query string
		body  string
	}{
		{"unknown format", "?format=gif", scenarioCSV},
		{"bad max edges", "?format=dot&max_edges=many", scenarioCSV},
		{"negative max edges", "?format=dot&max_edges=-1", scenarioCSV},
		{"bad weighting", "?format=dot&weighting=random", scenarioCSV},
		{"missing column", "?format=dot&case=missing", scenarioCSV},
		{"database input", "?format=dot&input=postgres", scenarioCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(s, tt.query, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var resp errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Invalid JSON response: %v", err)
			}
			if resp.Error == "" {
				t.Error("Expected an error message")
			}
		})
	}
}

func TestServer_OversizeBody(t *testing.T) {
	s := newTestServer(t, nil, 16)

	w := post(s, "?format=dot", scenarioCSV)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_EngineFailure(t *testing.T) {
	s := newTestServer(t, failingRenderer{}, 0)

	w := post(s, "?format=svg", scenarioCSV)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != string(dfgerr.CodeEngineUnavailable) {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestServer_Runs(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := post(s, "?format=json", scenarioCSV)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	runID := w.Header().Get("X-Run-Id")

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.RunID != runID || res.Stats.Rows != 6 || res.Stats.Traces != 2 {
		t.Errorf("run = %+v", res)
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, nil, 0)
	post(s, "?format=dot", scenarioCSV)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `dfgflow_runs_total{status="success"} 1`) {
		t.Errorf("metrics missing successful run:\n%s", w.Body.String())
	}
}

func TestRunStore_Evicts(t *testing.T) {
	store := NewRunStore(2)
	for _, id := range []string{"a", "b", "c"} {
		store.Put(&pipeline.Result{RunID: id})
	}
	if store.Count() != 2 {
		t.Fatalf("Count = %d", store.Count())
	}
	if _, ok := store.Get("a"); ok {
		t.Error("oldest run not evicted")
	}
	list := store.List()
	if list[0].RunID != "c" || list[1].RunID != "b" {
		t.Errorf("List order = %s, %s", list[0].RunID, list[1].RunID)
	}
}
