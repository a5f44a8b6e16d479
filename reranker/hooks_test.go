package reranker

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
	"github.com/goblincore/rmm/store"
)

type fixedDimEmbedder struct{ dim int }

func (e fixedDimEmbedder) EmbedQuery(context.Context, string) (corekit.Vector, error) {
	return make(corekit.Vector, e.dim), nil
}
func (e fixedDimEmbedder) EmbedDocuments(_ context.Context, texts []string) ([]corekit.Vector, error) {
	out := make([]corekit.Vector, len(texts))
	for i := range texts {
		out[i] = make(corekit.Vector, e.dim)
	}
	return out, nil
}
func (e fixedDimEmbedder) Dimension() int { return e.dim }

// byteHistEmbedder returns content-dependent vectors. With fixedDimEmbedder
// every query and memory embedding is zero, so both REINFORCE gradient terms
// vanish; distinct memories and a non-empty query here give a non-zero one.
type byteHistEmbedder struct{ dim int }

func (e byteHistEmbedder) vector(text string) corekit.Vector {
	v := make(corekit.Vector, e.dim)
	for _, b := range []byte(text) {
		v[int(b)%e.dim] += 1
	}
	return v
}
func (e byteHistEmbedder) EmbedQuery(_ context.Context, text string) (corekit.Vector, error) {
	return e.vector(text), nil
}
func (e byteHistEmbedder) EmbedDocuments(_ context.Context, texts []string) ([]corekit.Vector, error) {
	out := make([]corekit.Vector, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}
func (e byteHistEmbedder) Dimension() int { return e.dim }

func openHooks(t *testing.T, dim int, batchSize int, model corekit.Model) *Hooks {
	t.Helper()
	sessions := openSessions(t)
	vs, err := store.Open(filepath.Join(t.TempDir(), "memories"), fixedDimEmbedder{dim: dim})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })

	return &Hooks{
		Sessions:    sessions,
		VectorStore: vs,
		Embedder:    fixedDimEmbedder{dim: dim},
		Model:       model,
		Config:      Config{Dimension: dim, TopK: 5, TopM: 2, Temperature: 0.5, LearningRate: 0.1, Baseline: 0.5, BatchSize: batchSize, ClipThreshold: 10},
		Rand:        rand.New(rand.NewSource(7)),
	}
}

func TestBatchApplicationAfterFourTurns(t *testing.T) {
	dim := 4
	h := openHooks(t, dim, 4, fixedModel{text: "answer [0]"})
	h.Embedder = byteHistEmbedder{dim: dim}
	ctx := context.Background()

	if _, err := h.VectorStore.Add(ctx, []store.Document{
		{PageContent: "memory one"},
		{PageContent: "memory two"},
	}); err != nil {
		t.Fatal(err)
	}

	state := h.BeforeAgent(ctx, "user-1")
	initialWq := append([]float64{}, matrixData(state.Weights.Wq)...)

	for turn := 0; turn < 4; turn++ {
		messages := []corekit.Message{{Role: "user", Content: "tell me about my memories"}}
		query, retrieved, err := h.BeforeModel(ctx, state, messages)
		if err != nil {
			t.Fatal(err)
		}
		if len(retrieved) == 0 {
			t.Fatal("expected retrieved memories")
		}
		tc, _, err := h.WrapModelCall(ctx, state, query, retrieved, messages)
		if err != nil {
			t.Fatal(err)
		}
		h.AfterModel(ctx, state, tc, false)
	}

	if len(state.Accumulator.Samples) != 0 {
		t.Fatalf("expected accumulator reset after batch apply, got %d samples", len(state.Accumulator.Samples))
	}
	if state.Accumulator.LastBatchIndex != 1 {
		t.Fatalf("expected lastBatchIndex incremented to 1, got %d", state.Accumulator.LastBatchIndex)
	}

	finalWq := matrixData(state.Weights.Wq)
	changed := false
	for i := range initialWq {
		if initialWq[i] != finalWq[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("expected Wq to change after a batch application")
	}
}

func matrixData(m *matrix.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	h := openHooks(t, 1536, 4, fixedModel{text: "answer [0]"})
	h.Embedder = fixedDimEmbedder{dim: 512} // store stays at 1536, middleware configured for 1536

	ctx := context.Background()
	state := h.BeforeAgent(ctx, "user-mismatch")

	_, _, err := h.BeforeModel(ctx, state, []corekit.Message{{Role: "user", Content: "hello"}})
	if err == nil {
		t.Fatal("expected a ConfigurationError")
	}
	cfgErr, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("expected *ConfigurationError, got %T: %v", err, err)
	}
	if cfgErr.Expected != 1536 || cfgErr.Got != 512 {
		t.Fatalf("expected error to mention both 1536 and 512, got %+v", cfgErr)
	}
}
