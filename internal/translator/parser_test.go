package translator

import (
	"errors"
	"testing"
)

func TestParseGenerationFlatWithTriples(t *testing.T) {
	raw := `Here you go: {"select": ["profiles.cycle_number"], "filters": [["profiles.float_id", "=", 2902746]], "order_by": {"field": "time", "direction": "DESC"}, "limit": 5}`
	g, err := parseGeneration(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(g.Query.Filters) != 1 || g.Query.Filters[0].Field != "profiles.float_id" || g.Query.Filters[0].Value != 2902746.0 {
		t.Fatalf("unexpected filters %+v", g.Query.Filters)
	}
	if g.Query.OrderBy == nil || !g.Query.OrderBy.Descending {
		t.Fatalf("expected descending order, got %+v", g.Query.OrderBy)
	}
	if g.Query.Limit != 5 {
		t.Fatalf("expected limit 5, got %d", g.Query.Limit)
	}
	if g.Confidence != nil {
		t.Fatalf("flat output carries no confidence")
	}
}

func TestParseGenerationClampsConfidence(t *testing.T) {
	g, err := parseGeneration(`{"structured_query": {"select": ["measurements.salinity"]}, "confidence": 3.5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Confidence == nil || *g.Confidence != 1 {
		t.Fatalf("expected clamped confidence 1, got %v", g.Confidence)
	}
}

func TestParseGenerationRejectsGarbage(t *testing.T) {
	if _, err := parseGeneration("I cannot answer that."); !errors.Is(err, errNoJSON) {
		t.Fatalf("expected errNoJSON, got %v", err)
	}
	if _, err := parseGeneration(`{"select": "oops"}`); err == nil {
		t.Fatalf("expected decode error for malformed select")
	}
}
