package reranker

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
	"github.com/goblincore/rmm/statestore"
)

const weightsSchemaVersion = 1
const accumulatorSchemaVersion = 1

type weightsDoc struct {
	Version int             `json:"version"`
	Wq      json.RawMessage `json:"wq"`
	Wm      json.RawMessage `json:"wm"`
}

// LoadWeights loads a user's reranker weights, initializing fresh
// Gaussian weights if absent or invalid. rng seeds the Gaussian init when
// weights must be created.
func LoadWeights(ctx context.Context, sessions corekit.SessionStore, userID string, dimension int, rng *rand.Rand) Weights {
	ns, key := statestore.WeightsLocation(userID)
	sv, err := sessions.Get(ctx, ns, key)
	if err != nil || sv == nil {
		return initWeights(dimension, rng)
	}

	var doc weightsDoc
	if err := json.Unmarshal(sv.Data, &doc); err != nil {
		log.Printf("[rmm/reranker] weights document invalid for user %s, reinitializing: %v", userID, err)
		return initWeights(dimension, rng)
	}

	wq, errQ := matrix.Decode(doc.Wq)
	wm, errM := matrix.Decode(doc.Wm)
	if errQ != nil || errM != nil {
		log.Printf("[rmm/reranker] weights matrices invalid for user %s, reinitializing", userID)
		return initWeights(dimension, rng)
	}
	if r, c := matrix.Dims(wq); r != dimension || c != dimension {
		log.Printf("[rmm/reranker] persisted weights dimension %dx%d does not match %d, reinitializing", r, c, dimension)
		return initWeights(dimension, rng)
	}
	return Weights{Wq: wq, Wm: wm}
}

func initWeights(dimension int, rng *rand.Rand) Weights {
	return Weights{
		Wq: matrix.InitGaussian(dimension, dimension, 0, InitStd, rng),
		Wm: matrix.InitGaussian(dimension, dimension, 0, InitStd, rng),
	}
}

// SaveWeights persists w for userID. Returns false (never an error) on
// failure; the caller logs a warning.
func SaveWeights(ctx context.Context, sessions corekit.SessionStore, userID string, w Weights) bool {
	wqBytes, err1 := matrix.Encode(w.Wq)
	wmBytes, err2 := matrix.Encode(w.Wm)
	if err1 != nil || err2 != nil {
		return false
	}
	data, err := json.Marshal(weightsDoc{Version: weightsSchemaVersion, Wq: wqBytes, Wm: wmBytes})
	if err != nil {
		return false
	}

	ns, key := statestore.WeightsLocation(userID)
	ok, err := sessions.Put(ctx, ns, key, corekit.StoredValue{Version: weightsSchemaVersion, Data: data})
	return err == nil && ok
}

type gradientSampleDoc struct {
	QueryEmbedding        []float64   `json:"queryEmbedding"`
	AdaptedQuery          []float64   `json:"adaptedQuery"`
	MemoryEmbeddings      [][]float64 `json:"memoryEmbeddings"`
	AdaptedMemories       [][]float64 `json:"adaptedMemories"`
	SamplingProbabilities []float64   `json:"samplingProbabilities"`
	SelectedIndices       []int       `json:"selectedIndices"`
	CitationRewards       []float64   `json:"citationRewards"`
	Timestamp             time.Time   `json:"timestamp"`
}

type accumulatorDoc struct {
	Version        int                 `json:"version"`
	Samples        []gradientSampleDoc `json:"samples"`
	AccumGradWq    json.RawMessage     `json:"accumGradWq"`
	AccumGradWm    json.RawMessage     `json:"accumGradWm"`
	LastBatchIndex int                 `json:"lastBatchIndex"`
	LastUpdated    time.Time           `json:"lastUpdated"`
}

// LoadAccumulator loads a user's gradient accumulator, returning a fresh
// empty one if absent, invalid, or dimension-mismatched.
func LoadAccumulator(ctx context.Context, sessions corekit.SessionStore, userID string, dimension int) Accumulator {
	ns, key := statestore.AccumulatorLocation(userID)
	sv, err := sessions.Get(ctx, ns, key)
	if err != nil || sv == nil {
		return NewAccumulator(dimension)
	}

	var doc accumulatorDoc
	if err := json.Unmarshal(sv.Data, &doc); err != nil {
		log.Printf("[rmm/reranker] accumulator document invalid for user %s, resetting: %v", userID, err)
		return NewAccumulator(dimension)
	}

	wq, errQ := matrix.Decode(doc.AccumGradWq)
	wm, errM := matrix.Decode(doc.AccumGradWm)
	if errQ != nil || errM != nil {
		return NewAccumulator(dimension)
	}
	if r, c := matrix.Dims(wq); r != dimension || c != dimension {
		return NewAccumulator(dimension)
	}

	acc := Accumulator{
		AccumGradWq:    wq,
		AccumGradWm:    wm,
		LastBatchIndex: doc.LastBatchIndex,
		LastUpdated:    doc.LastUpdated,
	}
	for _, s := range doc.Samples {
		if !validSample(s) {
			continue
		}
		acc.Samples = append(acc.Samples, fromDoc(s))
	}
	return acc
}

// validSample silently rejects a persisted sample with a non-finite reward
// or a negative or non-finite sampling probability. Negative rewards are
// valid (an uncited memory earns -1).
func validSample(s gradientSampleDoc) bool {
	for _, r := range s.CitationRewards {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return false
		}
	}
	for _, p := range s.SamplingProbabilities {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return true
}

func fromDoc(s gradientSampleDoc) GradientSample {
	mem := make([]corekit.Vector, len(s.MemoryEmbeddings))
	for i, v := range s.MemoryEmbeddings {
		mem[i] = v
	}
	adapted := make([]corekit.Vector, len(s.AdaptedMemories))
	for i, v := range s.AdaptedMemories {
		adapted[i] = v
	}
	return GradientSample{
		QueryEmbedding:        s.QueryEmbedding,
		AdaptedQuery:          s.AdaptedQuery,
		MemoryEmbeddings:      mem,
		AdaptedMemories:       adapted,
		SamplingProbabilities: s.SamplingProbabilities,
		SelectedIndices:       s.SelectedIndices,
		CitationRewards:       s.CitationRewards,
		Timestamp:             s.Timestamp,
	}
}

func toDoc(s GradientSample) gradientSampleDoc {
	mem := make([][]float64, len(s.MemoryEmbeddings))
	for i, v := range s.MemoryEmbeddings {
		mem[i] = v
	}
	adapted := make([][]float64, len(s.AdaptedMemories))
	for i, v := range s.AdaptedMemories {
		adapted[i] = v
	}
	return gradientSampleDoc{
		QueryEmbedding:        s.QueryEmbedding,
		AdaptedQuery:          s.AdaptedQuery,
		MemoryEmbeddings:      mem,
		AdaptedMemories:       adapted,
		SamplingProbabilities: s.SamplingProbabilities,
		SelectedIndices:       s.SelectedIndices,
		CitationRewards:       s.CitationRewards,
		Timestamp:             s.Timestamp,
	}
}

// SaveAccumulator persists acc for userID. Returns false on failure.
func SaveAccumulator(ctx context.Context, sessions corekit.SessionStore, userID string, acc Accumulator) bool {
	wqBytes, err1 := matrix.Encode(acc.AccumGradWq)
	wmBytes, err2 := matrix.Encode(acc.AccumGradWm)
	if err1 != nil || err2 != nil {
		return false
	}

	samples := make([]gradientSampleDoc, len(acc.Samples))
	for i, s := range acc.Samples {
		samples[i] = toDoc(s)
	}

	data, err := json.Marshal(accumulatorDoc{
		Version:        accumulatorSchemaVersion,
		Samples:        samples,
		AccumGradWq:    wqBytes,
		AccumGradWm:    wmBytes,
		LastBatchIndex: acc.LastBatchIndex,
		LastUpdated:    acc.LastUpdated,
	})
	if err != nil {
		return false
	}

	ns, key := statestore.AccumulatorLocation(userID)
	ok, err := sessions.Put(ctx, ns, key, corekit.StoredValue{Version: accumulatorSchemaVersion, Data: data})
	return err == nil && ok
}
