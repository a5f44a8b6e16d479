package rmm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/reranker"
	"github.com/goblincore/rmm/statestore"
	"github.com/goblincore/rmm/store"
)

type echoModel struct{ reply string }

func (m echoModel) Generate(context.Context, []corekit.Message) (corekit.ModelOutput, error) {
	return corekit.ModelOutput{Text: m.reply}, nil
}

type zeroEmbedder struct{ dim int }

func (e zeroEmbedder) EmbedQuery(context.Context, string) (corekit.Vector, error) {
	return make(corekit.Vector, e.dim), nil
}
func (e zeroEmbedder) EmbedDocuments(_ context.Context, texts []string) ([]corekit.Vector, error) {
	out := make([]corekit.Vector, len(texts))
	for i := range texts {
		out[i] = make(corekit.Vector, e.dim)
	}
	return out, nil
}
func (e zeroEmbedder) Dimension() int { return e.dim }

func newTestConfig(t *testing.T, enabled bool) Config {
	t.Helper()
	dim := 4
	emb := zeroEmbedder{dim: dim}

	vs, err := store.Open(filepath.Join(t.TempDir(), "memories"), emb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })

	sessions, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sessions.Close() })

	cfg := DefaultConfig()
	cfg.VectorStore = vs
	cfg.Embedder = emb
	cfg.EmbeddingDimension = dim
	cfg.Model = echoModel{reply: "answer [0]"}
	cfg.Sessions = sessions
	cfg.SessionID = "session-1"
	cfg.Enabled = enabled
	return cfg
}

func TestNewRejectsEmbedderWithoutDimension(t *testing.T) {
	cfg := newTestConfig(t, true)
	cfg.EmbeddingDimension = 0
	if _, err := New(cfg); err == nil {
		t.Fatal("expected ConfigurationError")
	}
}

func TestNewRejectsTopMGreaterThanTopK(t *testing.T) {
	cfg := newTestConfig(t, true)
	cfg.TopK = 3
	cfg.TopM = 5
	if _, err := New(cfg); err == nil {
		t.Fatal("expected ConfigurationError for topM > topK")
	}
}

func TestNewSucceedsWithValidConfig(t *testing.T) {
	cfg := newTestConfig(t, true)
	if _, err := New(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestFullTurnRoundTrip(t *testing.T) {
	cfg := newTestConfig(t, true)
	cfg.TopM = 2
	mw, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := cfg.VectorStore.Add(ctx, []store.Document{
		{PageContent: "likes hiking"},
		{PageContent: "likes reading"},
	}); err != nil {
		t.Fatal(err)
	}

	turn := mw.BeforeAgent(ctx, "user-1", "session-1")
	messages := []corekit.Message{{Role: "user", Content: "what do I like?"}}

	if err := mw.BeforeModel(ctx, turn, messages); err != nil {
		t.Fatal(err)
	}

	out, err := mw.WrapModelCall(ctx, turn, messages, cfg.Model)
	if err != nil {
		t.Fatal(err)
	}
	if out.AsText() == "" {
		t.Fatal("expected a model response")
	}

	mw.AfterModel(ctx, turn)
	mw.AfterAgent(ctx, turn, []reranker.BufferedMessage{
		{Role: "user", Content: "what do I like?"},
		{Role: "assistant", Content: out.AsText()},
	})

	if turn.State == nil {
		t.Fatal("expected non-nil turn state")
	}
	if len(turn.State.Buffer) != 2 {
		t.Fatalf("expected 2 buffered messages, got %d", len(turn.State.Buffer))
	}
}

func TestDisabledMiddlewareIsNoOp(t *testing.T) {
	cfg := newTestConfig(t, false)
	mw, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	turn := mw.BeforeAgent(ctx, "user-1", "session-1")
	if turn.State != nil {
		t.Fatal("expected nil state when disabled")
	}

	messages := []corekit.Message{{Role: "user", Content: "hello"}}
	if err := mw.BeforeModel(ctx, turn, messages); err != nil {
		t.Fatal(err)
	}

	out, err := mw.WrapModelCall(ctx, turn, messages, cfg.Model)
	if err != nil {
		t.Fatal(err)
	}
	if out.AsText() != "answer [0]" {
		t.Fatalf("expected the generator to be called directly, got %q", out.AsText())
	}
}
