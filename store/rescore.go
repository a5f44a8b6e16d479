package store

import (
	"math"
	"sort"
	"time"
)

// Rescorer adjusts a SimilaritySearch result's ranking with signal beyond
// raw cosine similarity: recency and an optional caller-supplied link
// weight. It is never used on the reranker's turn hot path, whose
// retrieval and scoring stay pure cosine. Rescore is additive surface for
// non-hot-path callers, notably the write pipeline's duplicate lookup,
// which benefits from favoring recently-written near-duplicates over
// stale ones.
type Rescorer struct {
	// RecencyHalfLife is the duration over which a memory's recency
	// contribution decays by half. Zero disables the recency term.
	RecencyHalfLife time.Duration
	// LinkWeight maps a document ID to an externally computed association
	// weight in [0,1] (e.g. a waypoint-graph link count). Nil disables the
	// term.
	LinkWeight func(id string) float64
}

// Fixed blend: similarity dominates, recency and link weight are minor
// correctives.
const (
	simWeight   = 0.8
	recWeight   = 0.1
	linkWeight0 = 0.1
)

// TimestampsFromResults extracts the RFC3339 "timestamp" metadata field
// each SearchResult carries (when present) into the map Rescore expects.
// Results lacking a parseable timestamp are simply absent from the map,
// which Rescore treats as a zero recency contribution.
func TimestampsFromResults(results []SearchResult) map[string]time.Time {
	out := make(map[string]time.Time, len(results))
	for _, r := range results {
		v, ok := r.Metadata["timestamp"].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out[r.ID] = t
		}
	}
	return out
}

// Rescore re-ranks results by a composite of cosine similarity, recency,
// and link weight, then re-sorts and truncates to k. now is passed in
// (rather than taken from time.Now) so callers get deterministic output
// in tests.
func (r Rescorer) Rescore(results []SearchResult, timestamps map[string]time.Time, now time.Time, k int) []SearchResult {
	type scored struct {
		SearchResult
		composite float64
	}

	out := make([]scored, len(results))
	for i, res := range results {
		recency := 0.0
		if r.RecencyHalfLife > 0 {
			if ts, ok := timestamps[res.ID]; ok {
				age := now.Sub(ts)
				recency = math.Exp(-math.Ln2 * age.Hours() / r.RecencyHalfLife.Hours())
			}
		}
		link := 0.0
		if r.LinkWeight != nil {
			link = r.LinkWeight(res.ID)
		}
		out[i] = scored{
			SearchResult: res,
			composite:    simWeight*res.Score + recWeight*recency + linkWeight0*link,
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].composite > out[j].composite })

	if k > len(out) || k < 0 {
		k = len(out)
	}
	final := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		final[i] = out[i].SearchResult
	}
	return final
}
