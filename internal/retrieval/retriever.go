package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/oceanstack/argo-insight/internal/cache"
	"github.com/oceanstack/argo-insight/internal/capability"
	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Retriever ranks catalog items against a question by embedding similarity.
type Retriever struct {
	store    *catalog.Store
	embedder capability.Embedder
	cache    cache.Provider
	ttl      time.Duration
	logger   *slog.Logger
}

// New constructs a Retriever. A nil embedder or an unindexed store makes every
// Retrieve call fail with ErrEmbeddingUnavailable.
func New(store *catalog.Store, embedder capability.Embedder, cacheProvider cache.Provider, ttl time.Duration, logger *slog.Logger) *Retriever {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		cache:    cacheProvider,
		ttl:      ttl,
		logger:   logger,
	}
}

// Retrieve returns at most k items, highest similarity first, ties kept in
// corpus order (fragments before examples).
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedItem, error) {
	if k <= 0 {
		return nil, nil
	}
	if r.embedder == nil || !r.store.Indexed() {
		return nil, fmt.Errorf("retrieve: corpus not indexed: %w", utils.ErrEmbeddingUnavailable)
	}
	if r.embedder.Model() != r.store.Model() {
		return nil, fmt.Errorf("retrieve: embedder %s does not match corpus %s: %w", r.embedder.Model(), r.store.Model(), utils.ErrEmbeddingUnavailable)
	}

	query, err := r.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	items := make([]models.RetrievedItem, 0, len(r.store.Fragments())+len(r.store.Examples()))
	fragments := r.store.Fragments()
	for i := range fragments {
		score, err := Cosine(query, fragments[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", fragments[i].ID, errors.Join(utils.ErrEmbeddingUnavailable, err))
		}
		items = append(items, models.RetrievedItem{Kind: models.ItemFragment, Fragment: &fragments[i], Score: score})
	}
	examples := r.store.Examples()
	for i := range examples {
		score, err := Cosine(query, examples[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", examples[i].ID, errors.Join(utils.ErrEmbeddingUnavailable, err))
		}
		items = append(items, models.RetrievedItem{Kind: models.ItemExample, Example: &examples[i], Score: score})
	}

	return topK(items, k), nil
}

func (r *Retriever) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	key := cache.TextKey("embedding", r.embedder.Model(), question)
	if cached, err := r.cache.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		r.logger.Warn("discarding undecodable cached embedding", slog.String("key", key))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("embedding cache read failed", slog.Any("error", err))
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("embed question: %w", errors.Join(utils.ErrEmbeddingUnavailable, err))
	}

	if payload, err := json.Marshal(vec); err == nil {
		if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
			r.logger.Debug("embedding cache write failed", slog.Any("error", err))
		}
	}
	return vec, nil
}

// Lexical ranks catalog items by token overlap with the question. It needs no
// external capability and backs retrieval-free translation.
func (r *Retriever) Lexical(question string, k int) []models.RetrievedItem {
	if k <= 0 {
		return nil
	}
	terms := make(map[string]struct{})
	for _, tok := range capability.Tokenize(question) {
		if _, stop := stopwords[tok]; !stop {
			terms[tok] = struct{}{}
		}
	}
	if len(terms) == 0 {
		return nil
	}

	items := make([]models.RetrievedItem, 0)
	fragments := r.store.Fragments()
	for i := range fragments {
		if score := overlap(terms, catalog.FragmentText(fragments[i])); score > 0 {
			items = append(items, models.RetrievedItem{Kind: models.ItemFragment, Fragment: &fragments[i], Score: score})
		}
	}
	examples := r.store.Examples()
	for i := range examples {
		if score := overlap(terms, examples[i].QuestionText); score > 0 {
			items = append(items, models.RetrievedItem{Kind: models.ItemExample, Example: &examples[i], Score: score})
		}
	}
	return topK(items, k)
}

func overlap(terms map[string]struct{}, text string) float64 {
	seen := make(map[string]struct{})
	for _, tok := range capability.Tokenize(text) {
		if _, ok := terms[tok]; ok {
			seen[tok] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(terms))
}

func topK(items []models.RetrievedItem, k int) []models.RetrievedItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if len(items) > k {
		items = items[:k]
	}
	return items
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "at": {}, "for": {}, "by": {}, "on": {},
	"show": {}, "me": {}, "list": {}, "what": {}, "is": {}, "are": {}, "and": {}, "or": {},
	"with": {}, "from": {}, "to": {}, "give": {}, "find": {}, "get": {}, "all": {}, "this": {},
}
