package rmm

import (
	"context"
	"math/rand"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/memory"
	"github.com/goblincore/rmm/reranker"
)

// Middleware is the constructed RMM core: the five lifecycle hooks wired
// over one shared vector store, session store, generator, and embedder.
// A disabled Middleware's hooks are all no-ops.
type Middleware struct {
	hooks    *reranker.Hooks
	pipeline *memory.Pipeline
	enabled  bool
}

// New validates cfg and constructs a Middleware. Misconfiguration is
// fatal and returned as a *ConfigurationError.
func New(cfg Config) (*Middleware, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pipeline := memory.New(cfg.VectorStore, cfg.Model, cfg.Embedder)

	rerankerCfg := reranker.Config{
		Dimension:     cfg.EmbeddingDimension,
		TopK:          cfg.TopK,
		TopM:          cfg.TopM,
		Temperature:   cfg.Temperature,
		LearningRate:  cfg.LearningRate,
		Baseline:      cfg.Baseline,
		ClipThreshold: cfg.ClipThreshold,
		BatchSize:     cfg.BatchSize,
	}

	hooks := &reranker.Hooks{
		Sessions:    cfg.Sessions,
		VectorStore: cfg.VectorStore,
		Embedder:    cfg.Embedder,
		Model:       cfg.Model,
		Pipeline:    pipeline,
		Config:      rerankerCfg,
		Rand:        rand.New(rand.NewSource(seedFromSessionID(cfg.SessionID))),
	}

	return &Middleware{hooks: hooks, pipeline: pipeline, enabled: cfg.Enabled}, nil
}

func seedFromSessionID(sessionID string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for _, b := range []byte(sessionID) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	if h == 0 {
		return 1
	}
	return int64(h)
}

// Turn is the mutable, caller-owned state threaded through one turn's
// five hook calls.
type Turn struct {
	UserID       string
	SessionID    string
	State        *reranker.UserState
	Query        corekit.Vector
	Retrieved    []memory.Retrieved
	Context      reranker.TurnContext
	IsSessionEnd bool
}

// BeforeAgent loads the user's durable reranker state. A no-op on a
// disabled Middleware.
func (m *Middleware) BeforeAgent(ctx context.Context, userID, sessionID string) *Turn {
	t := &Turn{UserID: userID, SessionID: sessionID}
	if !m.enabled {
		return t
	}
	t.State = m.hooks.BeforeAgent(ctx, userID)
	return t
}

// BeforeModel retrieves and adapts the top-K memory slate for this turn.
func (m *Middleware) BeforeModel(ctx context.Context, t *Turn, messages []corekit.Message) error {
	if !m.enabled || t.State == nil {
		return nil
	}
	query, retrieved, err := m.hooks.BeforeModel(ctx, t.State, messages)
	if err != nil {
		return err
	}
	t.Query = query
	t.Retrieved = retrieved
	return nil
}

// WrapModelCall runs the hot-path algorithm and calls the generator. When
// disabled, or when there is no query to rerank against, it calls the
// generator directly with the unmodified messages.
func (m *Middleware) WrapModelCall(ctx context.Context, t *Turn, messages []corekit.Message, model corekit.Model) (corekit.ModelOutput, error) {
	if !m.enabled || t.State == nil || t.Query == nil {
		return model.Generate(ctx, messages)
	}
	tc, out, err := m.hooks.WrapModelCall(ctx, t.State, t.Query, t.Retrieved, messages)
	if err != nil {
		return corekit.ModelOutput{}, err
	}
	t.Context = tc
	return out, nil
}

// AfterModel computes and applies this turn's REINFORCE contribution. The
// turn-scoped context is cleared on every path, success or failure, so a
// cancelled or failed turn never leaks state into the next one.
func (m *Middleware) AfterModel(ctx context.Context, t *Turn) {
	defer func() {
		t.Context = reranker.TurnContext{}
		t.Query = nil
		t.Retrieved = nil
	}()
	if !m.enabled || t.State == nil || t.Query == nil {
		return
	}
	m.hooks.AfterModel(ctx, t.State, t.Context, t.IsSessionEnd)
}

// AfterAgent appends the turn's messages to the durable buffer and, on
// session end, fires the write pipeline.
func (m *Middleware) AfterAgent(ctx context.Context, t *Turn, turnMessages []reranker.BufferedMessage) {
	if !m.enabled || t.State == nil {
		return
	}
	m.hooks.AfterAgent(ctx, t.State, t.SessionID, turnMessages, t.IsSessionEnd)
}
