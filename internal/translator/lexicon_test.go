package translator

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/oceanstack/argo-insight/internal/models"
)

func TestLoadLexiconFallsBackToBuiltin(t *testing.T) {
	lx, err := LoadLexicon(filepath.Join(t.TempDir(), "missing.yaml"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lx.Variables) == 0 || len(lx.Regions) == 0 {
		t.Fatalf("expected built-in lexicon content")
	}
}

func TestParseLexiconRejectsInvalidRegion(t *testing.T) {
	_, err := ParseLexicon([]byte("regions:\n  - {name: nowhere, bbox: [10, 0, -10, 5]}\n"))
	if err == nil {
		t.Fatalf("expected inverted bounding box to be rejected")
	}
}

func TestTextConsumeBlocksReuse(t *testing.T) {
	txt := newText("Marine heatwave, heatwave!")
	if txt.consume("marine heatwave") < 0 {
		t.Fatalf("expected phrase match")
	}
	if txt.find("marine heatwave") >= 0 {
		t.Fatalf("consumed phrase must not match again")
	}
	if txt.find("heatwave") < 0 {
		t.Fatalf("second occurrence should remain")
	}
}

func TestDepthFilterVariants(t *testing.T) {
	cases := []struct {
		question string
		op       string
		value    float64
	}{
		{"temperature below 500 m", models.OpGte, 500},
		{"salinity above 200 meters", models.OpLte, 200},
		{"oxygen at 1500 dbar", models.OpEq, 1500},
		{"surface temperature", models.OpLte, 10},
	}
	for _, tc := range cases {
		f, _, ok := depthFilter(newText(tc.question))
		if !ok {
			t.Fatalf("%q: no depth filter", tc.question)
		}
		if f.Op != tc.op || f.Value != tc.value {
			t.Fatalf("%q: got %s %v", tc.question, f.Op, f.Value)
		}
	}
}
