package capability

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashingDeterministicAndNormalised(t *testing.T) {
	h := NewHashing(128)
	a, _ := h.Embed(context.Background(), "average temperature at depth")
	b, _ := h.Embed(context.Background(), "average temperature at depth")

	if len(a) != 128 {
		t.Fatalf("expected 128 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	if norm := cosine(a, a); math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestHashingLexicalSimilarity(t *testing.T) {
	h := NewHashing(256)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "temperature measurements")
	near, _ := h.Embed(ctx, "measurement temperature salinity depth")
	far, _ := h.Embed(ctx, "satellite chlorophyll")

	if cosine(q, near) <= cosine(q, far) {
		t.Fatalf("expected overlapping text to score higher")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Show floats, profiles & salinity!")
	want := []string{"show", "float", "profile", "salinity"}
	if len(got) != len(want) {
		t.Fatalf("unexpected tokens %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: want %s got %s", i, want[i], got[i])
		}
	}
}
