package render

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/encoder"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/graph"
)

func model(t *testing.T) *graph.Model {
	t.Helper()
	s := &dfg.Summary{
		Pairs: map[dfg.Pair]dfg.Stats{
			{Act1: "A", Act2: "B"}: {Median: 4, Count: 2},
			{Act1: "B", Act2: "C"}: {Median: 5, Count: 2},
			{Act1: "C", Act2: "C"}: {Median: 1, Count: 1},
		},
		Start:      map[string]int64{"A": 2},
		End:        map[string]int64{"C": 2},
		Activities: []string{"A", "B", "C"},
	}
	m, err := encoder.New(encoder.DefaultOptions(), nil, logging.Discard()).Encode(context.Background(), s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return m
}

func TestMarshalDOT(t *testing.T) {
	out, err := MarshalDOT(model(t))
	if err != nil {
		t.Fatalf("MarshalDOT failed: %v", err)
	}
	text := string(out)

	for _, want := range []string{
		"strict digraph dfg {",
		"bgcolor=transparent",
		"overlap=false",
		"shape=box",
		`label="B (4)"`,
		"style=filled",
		`fillcolor="#`,
		"penwidth=",
		`"@@startnode"`,
		"label=<&#9679;>",
		"shape=circle",
		"fontsize=34",
		`"@@endnode"`,
		"label=<&#9632;>",
		"shape=doublecircle",
		"fontsize=32",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}

	c := graph.FormatID(graph.Hash(graph.TagActivity, "C"))
	if !strings.Contains(text, c+" -> "+c) {
		t.Errorf("DOT output missing self loop on C:\n%s", text)
	}
}

func TestMarshalDOT_Deterministic(t *testing.T) {
	a, err := MarshalDOT(model(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalDOT(model(t))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same summary differ")
	}
}

func TestGraphviz_DOTNeedsNoEngine(t *testing.T) {
	g := NewGraphviz(Options{Engine: "dfgflow-no-such-engine"}, logging.Discard())

	var buf bytes.Buffer
	if err := g.Render(context.Background(), model(t), FormatDOT, &buf); err != nil {
		t.Fatalf("Render dot failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "strict digraph") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestGraphviz_EngineUnavailable(t *testing.T) {
	g := NewGraphviz(Options{Engine: "dfgflow-no-such-engine"}, logging.Discard())

	if err := g.Available(); !dfgerr.IsCode(err, dfgerr.CodeEngineUnavailable) {
		t.Errorf("Available err = %v, want E701", err)
	}
	err := g.Render(context.Background(), model(t), FormatSVG, &bytes.Buffer{})
	if !dfgerr.IsCode(err, dfgerr.CodeEngineUnavailable) {
		t.Errorf("Render err = %v, want E701", err)
	}
	if !dfgerr.IsFatal(err) {
		t.Error("engine errors must be fatal")
	}
}

func TestGraphviz_EngineFailure(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	g := NewGraphviz(Options{Engine: falseBin}, logging.Discard())
	err = g.Render(context.Background(), model(t), FormatSVG, &bytes.Buffer{})
	if !dfgerr.IsCode(err, dfgerr.CodeRenderFailed) {
		t.Errorf("err = %v, want E702", err)
	}
}

func TestGraphviz_SVG(t *testing.T) {
	if _, err := exec.LookPath("dot"); err != nil {
		t.Skip("graphviz not installed")
	}
	g := NewGraphviz(Options{}, logging.Discard())

	var buf bytes.Buffer
	if err := g.Render(context.Background(), model(t), FormatSVG, &buf); err != nil {
		t.Fatalf("Render svg failed: %v", err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Error("output is not SVG")
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "dfg.dot")
	g := NewGraphviz(Options{}, logging.Discard())

	if err := WriteFile(context.Background(), g, model(t), FormatDOT, path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "digraph") {
		t.Error("file does not hold DOT")
	}

	// A failed render leaves the previous output untouched.
	bad := NewGraphviz(Options{Engine: "dfgflow-no-such-engine"}, logging.Discard())
	if err := WriteFile(context.Background(), bad, model(t), FormatSVG, path); err == nil {
		t.Fatal("expected error")
	}
	again, _ := os.ReadFile(path)
	if !bytes.Equal(data, again) {
		t.Error("failed render modified the output file")
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatSVG, false},
		{"SVG", FormatSVG, false},
		{"png", FormatPNG, false},
		{"dot", FormatDOT, false},
		{"gif", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if f, ok := FormatFromPath("x/y.GV"); !ok || f != FormatDOT {
		t.Errorf("FormatFromPath = %q, %v", f, ok)
	}
}
