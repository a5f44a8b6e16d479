package reranker

import (
	"fmt"
	"math"
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
)

// shapeError reports a fatal data-shape violation in gradient
// computation: the turn is dropped and contributes no gradient.
type shapeError struct {
	msg string
}

func (e *shapeError) Error() string { return "reranker: " + e.msg }

// BuildGradientSample converts a completed turn's context into the durable
// GradientSample shape, extending the hot path's per-selected-slate
// citations to the full retrieved set K: selected-and-cited -> +1,
// everything else (unselected, or selected-but-uncited) -> -1.
func BuildGradientSample(tc TurnContext) (GradientSample, error) {
	if len(tc.Citations) == 0 {
		return GradientSample{}, &shapeError{msg: "no citation records: malformed marker, turn contributes no gradient"}
	}

	k := len(tc.Retrieved)
	rewards := make([]float64, k)
	for i := range rewards {
		rewards[i] = -1
	}
	for turnIndex, memIdx := range tc.Selected {
		if turnIndex < len(tc.Citations) && tc.Citations[turnIndex].Cited {
			rewards[memIdx] = 1
		}
	}

	return GradientSample{
		QueryEmbedding:        tc.Query,
		AdaptedQuery:          tc.AdaptedQuery,
		MemoryEmbeddings:      tc.MemoryEmbeddings,
		AdaptedMemories:       tc.AdaptedMemories,
		SamplingProbabilities: tc.Probabilities,
		SelectedIndices:       tc.Selected,
		CitationRewards:       rewards,
		Timestamp:             time.Now(),
	}, nil
}

// validateShapes enforces the data shapes ComputeGradient requires.
func validateShapes(s GradientSample, dimension int) error {
	k := len(s.MemoryEmbeddings)
	if len(s.QueryEmbedding) != dimension {
		return &shapeError{msg: fmt.Sprintf("queryEmbedding length %d != D=%d", len(s.QueryEmbedding), dimension)}
	}
	if len(s.AdaptedQuery) != dimension {
		return &shapeError{msg: fmt.Sprintf("adaptedQuery length %d != D=%d", len(s.AdaptedQuery), dimension)}
	}
	if len(s.AdaptedMemories) != k {
		return &shapeError{msg: fmt.Sprintf("adaptedMemories count %d != memoryEmbeddings count %d", len(s.AdaptedMemories), k)}
	}
	for i, m := range s.MemoryEmbeddings {
		if len(m) != dimension {
			return &shapeError{msg: fmt.Sprintf("memoryEmbeddings[%d] length %d != D=%d", i, len(m), dimension)}
		}
	}
	for i, m := range s.AdaptedMemories {
		if len(m) != dimension {
			return &shapeError{msg: fmt.Sprintf("adaptedMemories[%d] length %d != D=%d", i, len(m), dimension)}
		}
	}
	if len(s.SamplingProbabilities) != k {
		return &shapeError{msg: fmt.Sprintf("len(P)=%d != K=%d", len(s.SamplingProbabilities), k)}
	}
	if len(s.CitationRewards) != k {
		return &shapeError{msg: fmt.Sprintf("len(citationRewards)=%d != K=%d", len(s.CitationRewards), k)}
	}
	for _, idx := range s.SelectedIndices {
		if idx < 0 || idx >= k {
			return &shapeError{msg: fmt.Sprintf("selected index %d outside [0,%d)", idx, k)}
		}
	}
	return nil
}

// ComputeGradient computes the exact REINFORCE gradient contributions
// ΔW_q, ΔW_m for a single turn. Returns a shapeError, fatal for this turn
// only, on any data-shape violation.
func ComputeGradient(s GradientSample, cfg Config) (deltaWq, deltaWm *matrix.Matrix, err error) {
	if err := validateShapes(s, cfg.Dimension); err != nil {
		return nil, nil, err
	}

	k := len(s.MemoryEmbeddings)
	selected := make(map[int]bool, len(s.SelectedIndices))
	for _, idx := range s.SelectedIndices {
		selected[idx] = true
	}

	expectedM := weightedSum(s.MemoryEmbeddings, s.SamplingProbabilities, cfg.Dimension)
	expectedAdapted := weightedSum(s.AdaptedMemories, s.SamplingProbabilities, cfg.Dimension)

	deltaWq = matrix.Zeros(cfg.Dimension, cfg.Dimension)
	deltaWm = matrix.Zeros(cfg.Dimension, cfg.Dimension)

	for i := 0; i < k; i++ {
		advantage := s.CitationRewards[i] - cfg.Baseline
		if math.Abs(advantage) < 1e-9 {
			continue
		}

		indicator := 0.0
		if selected[i] {
			indicator = 1.0
		}
		coef := cfg.LearningRate * advantage * (indicator - s.SamplingProbabilities[i])

		mAdaptedDiff, err := matrix.VecSub(s.AdaptedMemories[i], expectedAdapted)
		if err != nil {
			return nil, nil, err
		}
		wqContribution := matrix.OuterProduct(matrix.VecScale(mAdaptedDiff, coef), s.AdaptedQuery)
		deltaWq, err = matrix.Add(deltaWq, wqContribution)
		if err != nil {
			return nil, nil, err
		}

		mDiff, err := matrix.VecSub(s.MemoryEmbeddings[i], expectedM)
		if err != nil {
			return nil, nil, err
		}
		wmContribution := matrix.OuterProduct(matrix.VecScale(s.AdaptedQuery, coef), mDiff)
		deltaWm, err = matrix.Add(deltaWm, wmContribution)
		if err != nil {
			return nil, nil, err
		}
	}

	return deltaWq, deltaWm, nil
}

func weightedSum(vectors []corekit.Vector, weights []float64, dimension int) []float64 {
	out := make([]float64, dimension)
	for j, v := range vectors {
		for d := 0; d < dimension; d++ {
			out[d] += weights[j] * v[d]
		}
	}
	return out
}
