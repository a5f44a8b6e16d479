package reranker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
	"github.com/goblincore/rmm/memory"
	"github.com/goblincore/rmm/sampler"
	"github.com/goblincore/rmm/store"
)

// ConfigurationError is fatal and never swallowed: it is raised the first
// time a dimension mismatch is detected between the embedder and the
// configured reranker dimension.
type ConfigurationError struct {
	Expected int
	Got      int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("reranker: embedder dimension %d does not match configured dimension %d", e.Got, e.Expected)
}

// Hooks wires the reranker core's five lifecycle hooks over a shared
// vector store, per-user session store, generator, and embedder. It is
// the engine the root middleware composes into its public surface.
type Hooks struct {
	Sessions    corekit.SessionStore
	VectorStore *store.Store
	Embedder    corekit.Embedder
	Model       corekit.Model
	Pipeline    *memory.Pipeline
	Config      Config
	Rand        *rand.Rand
}

// BeforeAgent loads a user's durable weights, accumulator, message
// buffer, and metadata, initializing weights from Gaussian if absent.
func (h *Hooks) BeforeAgent(ctx context.Context, userID string) *UserState {
	state := &UserState{
		UserID:      userID,
		Weights:     LoadWeights(ctx, h.Sessions, userID, h.Config.Dimension, h.Rand),
		Accumulator: LoadAccumulator(ctx, h.Sessions, userID, h.Config.Dimension),
		Buffer:      loadBuffer(ctx, h.Sessions, userID),
		Metadata:    loadMetadata(ctx, h.Sessions, userID),
	}
	hash := h.configHash()
	if state.Metadata.ConfigHash != "" && state.Metadata.ConfigHash != hash {
		log.Printf("[rmm/reranker] user %s state was persisted under config %s, now running %s", userID, state.Metadata.ConfigHash, hash)
	}
	state.Metadata.ConfigHash = hash
	return state
}

// configHash fingerprints the knobs whose change invalidates persisted
// per-user state, so reuse of a store under an incompatible configuration
// is detectable through SessionMetadata.
func (h *Hooks) configHash() string {
	f := fnv.New64a()
	fmt.Fprintf(f, "%d|%d|%d|%g", h.Config.Dimension, h.Config.TopK, h.Config.TopM, h.Config.Temperature)
	return fmt.Sprintf("%016x", f.Sum64())
}

// ValidateDimension performs the lazy one-time dimension probe: embed a
// short string and assert its length matches the configured dimension. A
// transient embedder error is logged and validation is deferred to the
// next call; a genuine mismatch is a fatal ConfigurationError.
func (h *Hooks) ValidateDimension(ctx context.Context, state *UserState) error {
	if state.DimensionValidated {
		return nil
	}
	v, err := h.Embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		log.Printf("[rmm/reranker] dimension probe failed, deferring validation: %v", err)
		return nil
	}
	if len(v) != h.Config.Dimension {
		return &ConfigurationError{Expected: h.Config.Dimension, Got: len(v)}
	}
	state.DimensionValidated = true
	return nil
}

// BeforeModel extracts the last user message as the query, retrieves the
// top-K memory slate, and re-embeds each retrieved topicSummary since the
// store itself does not return vectors. It always increments the turn
// counter, even when there is no user message to query with.
func (h *Hooks) BeforeModel(ctx context.Context, state *UserState, messages []corekit.Message) (corekit.Vector, []memory.Retrieved, error) {
	if err := h.ValidateDimension(ctx, state); err != nil {
		return nil, nil, err
	}

	state.TurnCount++

	queryText := lastUserMessage(messages)
	if queryText == "" {
		return nil, nil, nil
	}

	queryVec, err := h.Embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		log.Printf("[rmm/reranker] query embed failed: %v", err)
		return nil, nil, nil
	}

	results, err := h.VectorStore.SimilaritySearch(ctx, queryText, h.Config.TopK)
	if err != nil {
		log.Printf("[rmm/reranker] retrieval failed: %v", err)
		return nil, nil, nil
	}
	if len(results) == 0 {
		return queryVec, nil, nil
	}

	summaries := make([]string, len(results))
	for i, r := range results {
		summaries[i] = r.PageContent
	}
	vectors, err := h.Embedder.EmbedDocuments(ctx, summaries)
	if err != nil || len(vectors) != len(results) {
		log.Printf("[rmm/reranker] re-embedding retrieved memories failed: %v", err)
		return queryVec, nil, nil
	}

	retrieved := make([]memory.Retrieved, len(results))
	for i, r := range results {
		retrieved[i] = memory.Retrieved{
			Entry: memory.Entry{
				ID:           r.ID,
				TopicSummary: r.PageContent,
				RawDialogue:  stringFromMetadata(r.Metadata, "rawDialogue"),
				SessionID:    stringFromMetadata(r.Metadata, "sessionId"),
				Embedding:    vectors[i],
			},
			RelevanceScore: r.Score,
		}
	}
	return queryVec, retrieved, nil
}

func lastUserMessage(messages []corekit.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func stringFromMetadata(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// WrapModelCall delegates to the pure hot-path algorithm with this
// user's weights, temperature, and topM.
func (h *Hooks) WrapModelCall(ctx context.Context, state *UserState, query corekit.Vector, retrieved []memory.Retrieved, messages []corekit.Message) (TurnContext, corekit.ModelOutput, error) {
	rng := sampler.Rand(h.Rand)
	return WrapModelCall(ctx, h.Model, state.Weights, h.Config, query, retrieved, rng, messages)
}

// AfterModel builds and applies the turn's REINFORCE contribution,
// clipping by L2 norm before accumulation, and applies + persists a batch
// update once the accumulator reaches batchSize or the session ends.
func (h *Hooks) AfterModel(ctx context.Context, state *UserState, tc TurnContext, isSessionEnd bool) {
	sample, err := BuildGradientSample(tc)
	if err != nil {
		return // malformed citation marker: no gradient, durable state untouched
	}

	deltaWq, deltaWm, err := ComputeGradient(sample, h.Config)
	if err != nil {
		log.Printf("[rmm/reranker] gradient computation failed for user %s: %v", state.UserID, err)
		return
	}

	deltaWq = matrix.ClipByL2Norm(deltaWq, h.Config.ClipThreshold)
	deltaWm = matrix.ClipByL2Norm(deltaWm, h.Config.ClipThreshold)

	state.Accumulator.AccumGradWq, err = matrix.Add(state.Accumulator.AccumGradWq, deltaWq)
	if err != nil {
		log.Printf("[rmm/reranker] accumulate Wq failed: %v", err)
		return
	}
	state.Accumulator.AccumGradWm, err = matrix.Add(state.Accumulator.AccumGradWm, deltaWm)
	if err != nil {
		log.Printf("[rmm/reranker] accumulate Wm failed: %v", err)
		return
	}
	state.Accumulator.Samples = append(state.Accumulator.Samples, sample)
	state.Accumulator.LastUpdated = time.Now()

	if len(state.Accumulator.Samples) >= h.Config.BatchSize || isSessionEnd {
		h.applyBatch(state)
	}

	if !SaveAccumulator(ctx, h.Sessions, state.UserID, state.Accumulator) {
		log.Printf("[rmm/reranker] persisting accumulator failed for user %s", state.UserID)
	}
}

// applyBatch implements the batch state machine's filling -> applied ->
// empty transition: add the accumulated gradient to the weights, clip
// elementwise, and reset the accumulator.
func (h *Hooks) applyBatch(state *UserState) {
	wq, err := matrix.Add(state.Weights.Wq, state.Accumulator.AccumGradWq)
	if err != nil {
		log.Printf("[rmm/reranker] apply batch Wq failed for user %s: %v", state.UserID, err)
		return
	}
	wm, err := matrix.Add(state.Weights.Wm, state.Accumulator.AccumGradWm)
	if err != nil {
		log.Printf("[rmm/reranker] apply batch Wm failed for user %s: %v", state.UserID, err)
		return
	}

	state.Weights.Wq = matrix.ClipElementwise(wq, -h.Config.ClipThreshold, h.Config.ClipThreshold)
	state.Weights.Wm = matrix.ClipElementwise(wm, -h.Config.ClipThreshold, h.Config.ClipThreshold)

	appliedBatches := state.Accumulator.LastBatchIndex + 1
	state.Accumulator = NewAccumulator(h.Config.Dimension)
	state.Accumulator.LastBatchIndex = appliedBatches

	if !SaveWeights(context.Background(), h.Sessions, state.UserID, state.Weights) {
		log.Printf("[rmm/reranker] persisting weights failed for user %s", state.UserID)
	}
}

// FlushUser forces the batch-apply path for a user regardless of how many
// samples the accumulator currently holds, then persists both weights and
// accumulator. It is the non-hot-path counterpart to the batchSize/
// isSessionEnd triggers in AfterModel, for hosts that want periodic
// hygiene on long-running sessions that rarely end. A user with an empty
// accumulator is a no-op.
func (h *Hooks) FlushUser(ctx context.Context, userID string) {
	state := h.BeforeAgent(ctx, userID)
	if len(state.Accumulator.Samples) == 0 {
		return
	}
	h.applyBatch(state)
	if !SaveAccumulator(ctx, h.Sessions, userID, state.Accumulator) {
		log.Printf("[rmm/reranker] periodic flush: persisting accumulator failed for user %s", userID)
	}
}

// AfterAgent appends the turn's messages to the durable buffer and fires
// the write pipeline when the session ends.
func (h *Hooks) AfterAgent(ctx context.Context, state *UserState, sessionID string, turnMessages []BufferedMessage, isSessionEnd bool) {
	state.Buffer = append(state.Buffer, turnMessages...)
	if !saveBuffer(ctx, h.Sessions, state.UserID, state.Buffer) {
		log.Printf("[rmm/reranker] persisting message buffer failed for user %s", state.UserID)
	}

	if isSessionEnd {
		if h.Pipeline != nil {
			h.Pipeline.Run(ctx, sessionID, turnsFromBuffer(state.Buffer))
		}
		state.Metadata.SessionCount++
		state.Metadata.LastUpdated = time.Now()
		if !saveMetadata(ctx, h.Sessions, state.UserID, state.Metadata) {
			log.Printf("[rmm/reranker] persisting session metadata failed for user %s", state.UserID)
		}
	}
}
