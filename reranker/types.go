// Package reranker implements Retrospective Reflection: the trainable
// reranker that adapts retrieved memory embeddings with learned D×D
// transforms, samples a top-M slate via Gumbel-Softmax, and updates its
// weights from citation-derived REINFORCE rewards. It composes the
// matrix, sampler, and citation packages into the five lifecycle hooks a
// host agent framework calls around each turn.
package reranker

import (
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
)

// Config is the tunable policy for one user's reranker.
type Config struct {
	Dimension     int
	TopK          int
	TopM          int
	Temperature   float64
	LearningRate  float64
	Baseline      float64
	ClipThreshold float64
	BatchSize     int
}

// DefaultConfig returns the standard tuning defaults, minus Dimension
// which the middleware must supply explicitly.
func DefaultConfig() Config {
	return Config{
		TopK:          20,
		TopM:          5,
		Temperature:   0.5,
		LearningRate:  0.001,
		Baseline:      0.5,
		BatchSize:     4,
		ClipThreshold: 100,
	}
}

// InitStd is the initialization standard deviation for W_q/W_m. Small, so
// fresh weights start near the identity adaptation.
const InitStd = 0.01

// Weights holds one user's two learned D×D transforms.
type Weights struct {
	Wq *matrix.Matrix
	Wm *matrix.Matrix
}

// GradientSample is the minimum data needed to recompute an exact
// REINFORCE gradient after the model call.
type GradientSample struct {
	QueryEmbedding        corekit.Vector
	AdaptedQuery          corekit.Vector
	MemoryEmbeddings      []corekit.Vector
	AdaptedMemories       []corekit.Vector
	SamplingProbabilities []float64
	SelectedIndices       []int
	CitationRewards       []float64
	Timestamp             time.Time
}

// Accumulator is the durable, per-user batch of gradient samples plus the
// running gradient sum awaiting an applied update.
type Accumulator struct {
	Samples        []GradientSample
	AccumGradWq    *matrix.Matrix
	AccumGradWm    *matrix.Matrix
	LastBatchIndex int
	LastUpdated    time.Time
}

// NewAccumulator returns an empty accumulator for a D-dimensional reranker.
func NewAccumulator(dimension int) Accumulator {
	return Accumulator{
		AccumGradWq: matrix.Zeros(dimension, dimension),
		AccumGradWm: matrix.Zeros(dimension, dimension),
	}
}

// CitationRecord is the per-retrieved-memory outcome of parsing the
// generator's citation marker.
type CitationRecord struct {
	MemoryID  string
	TurnIndex int
	Cited     bool
	Reward    float64
}
