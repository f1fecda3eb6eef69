package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder is a deterministic ai.Embedder for tests.
//
// The vector for a given text is derived from a hash of the text, so:
//   - embedding the same text twice yields identical vectors
//   - unrelated texts yield vectors differing in most components
//   - every vector is L2-normalized (magnitude ~ 1.0)
//
// This mirrors the invariants of a real embedding model closely enough for
// pipeline tests without network access.
type FakeEmbedder struct {
	// Dimension of produced vectors. Defaults to 1536 when zero.
	Dimension int

	// Err, when set, is returned from every Embed call.
	Err error

	mu        sync.Mutex
	callCount int
	lastInput string
}

// NewFakeEmbedder returns a FakeEmbedder producing 1536-dimension vectors.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dimension: 1536}
}

// Name implements ai.Embedder.
func (f *FakeEmbedder) Name() string {
	return "fake-embedder"
}

// Register implements ai.Embedder. No-op for testing.
func (f *FakeEmbedder) Register(r api.Registry) {}

// Embed implements ai.Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		f.lastInput = req.Input[0].Content[0].Text
	}
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	embeddings := make([]*ai.Embedding, 0, len(req.Input))
	for _, doc := range req.Input {
		var text string
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		embeddings = append(embeddings, &ai.Embedding{Embedding: f.vectorFor(text)})
	}

	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// CallCount returns the number of Embed calls so far.
func (f *FakeEmbedder) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// LastInput returns the text of the most recent Embed call.
func (f *FakeEmbedder) LastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

// vectorFor derives a deterministic unit vector from text.
func (f *FakeEmbedder) vectorFor(text string) []float32 {
	dim := f.Dimension
	if dim == 0 {
		dim = 1536
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64()))) // #nosec G404 -- deterministic test vectors

	vec := make([]float32, dim)
	var sumSquares float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sumSquares += v * v
	}

	// L2-normalize so magnitude ~ 1.0, matching real embedding models.
	norm := float32(math.Sqrt(sumSquares))
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
