package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oceanstack/argo-insight/internal/cache"
	"github.com/oceanstack/argo-insight/internal/capability"
	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type countingEmbedder struct {
	inner capability.Embedder
	calls atomic.Int32
	fail  error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Model() string { return c.inner.Model() }

func indexedStore(t *testing.T, e capability.Embedder) *catalog.Store {
	t.Helper()
	base, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store, err := base.WithEmbeddings(context.Background(), e)
	if err != nil {
		t.Fatalf("index catalog: %v", err)
	}
	return store
}

func TestRetrieveRanksAndBounds(t *testing.T) {
	embedder := capability.NewHashing(256)
	r := New(indexedStore(t, embedder), embedder, nil, 0, nil)

	items, err := r.Retrieve(context.Background(), "average temperature salinity depth measurements", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			t.Fatalf("items not sorted by score: %v", items)
		}
	}
	ids := map[string]bool{}
	for _, item := range items {
		ids[item.ID()] = true
	}
	if !ids["schema.measurements"] || !ids["example.avg_temperature_depth"] {
		t.Fatalf("expected measurements fragment and matching example in top 3, got %v", ids)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	embedder := capability.NewHashing(128)
	r := New(indexedStore(t, embedder), embedder, nil, 0, nil)

	first, _ := r.Retrieve(context.Background(), "floats deployed", 5)
	second, _ := r.Retrieve(context.Background(), "floats deployed", 5)
	if len(first) != len(second) {
		t.Fatalf("length differs")
	}
	for i := range first {
		if first[i].ID() != second[i].ID() || first[i].Score != second[i].Score {
			t.Fatalf("result %d differs: %s vs %s", i, first[i].ID(), second[i].ID())
		}
	}
}

func TestRetrieveUsesEmbeddingCache(t *testing.T) {
	hashing := capability.NewHashing(64)
	embedder := &countingEmbedder{inner: hashing}
	store := indexedStore(t, hashing)
	r := New(store, embedder, cache.NewMemoryProvider(16), time.Minute, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Retrieve(context.Background(), "oxygen by depth", 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if embedder.calls.Load() != 1 {
		t.Fatalf("expected 1 embed call, got %d", embedder.calls.Load())
	}
}

func TestRetrieveEmbeddingUnavailable(t *testing.T) {
	hashing := capability.NewHashing(64)
	store := indexedStore(t, hashing)
	r := New(store, &countingEmbedder{inner: hashing, fail: errors.New("connection refused")}, nil, 0, nil)

	_, err := r.Retrieve(context.Background(), "temperature", 3)
	if !errors.Is(err, utils.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	unindexed, _ := catalog.Load()
	r = New(unindexed, hashing, nil, 0, nil)
	if _, err := r.Retrieve(context.Background(), "temperature", 3); !errors.Is(err, utils.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable for unindexed corpus, got %v", err)
	}
}

func TestRetrieveKeepsTimeoutDistinguishable(t *testing.T) {
	hashing := capability.NewHashing(64)
	store := indexedStore(t, hashing)
	timeout := &countingEmbedder{inner: hashing, fail: utils.ErrCapabilityTimeout}
	r := New(store, timeout, nil, 0, nil)

	_, err := r.Retrieve(context.Background(), "temperature", 3)
	if !errors.Is(err, utils.ErrCapabilityTimeout) || !errors.Is(err, utils.ErrEmbeddingUnavailable) {
		t.Fatalf("expected timeout wrapped as unavailable, got %v", err)
	}
}

func TestLexicalFallback(t *testing.T) {
	store, _ := catalog.Load()
	r := New(store, nil, nil, 0, nil)

	items := r.Lexical("show me the salinity measurements", 4)
	if len(items) == 0 {
		t.Fatalf("expected lexical matches")
	}
	if items[0].Kind != models.ItemFragment || items[0].Fragment.EntityName != "measurements" {
		t.Fatalf("expected measurements first, got %s", items[0].ID())
	}
	if got := r.Lexical("the of and", 4); len(got) != 0 {
		t.Fatalf("expected no matches for stopwords, got %d", len(got))
	}
}

func TestCosine(t *testing.T) {
	if s, _ := Cosine([]float32{1, 0}, []float32{1, 0}); s != 1 {
		t.Fatalf("expected 1, got %v", s)
	}
	if s, _ := Cosine([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Fatalf("expected 0, got %v", s)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension error")
	}
}
