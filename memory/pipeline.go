package memory

import (
	"context"
	"log"
	"time"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/store"
)

// DefaultTopK is the number of similar existing memories consulted for
// each extracted candidate.
const DefaultTopK = 5

// Pipeline is the Prospective Reflection write pipeline: it extracts
// candidate memories from a session's dialogue, looks each up against the
// vector store, asks the model whether to add or merge, and applies the
// resulting actions. Every step degrades gracefully: a failure anywhere
// drops that piece of work, never aborting the rest of the session. Store
// and extraction errors are logged; an unparseable extraction or merge
// decision silently yields no candidates or no actions.
type Pipeline struct {
	Store    *store.Store
	Model    corekit.Model
	Embedder corekit.Embedder

	// Rescorer, if set, re-ranks the similarity-search results consulted
	// in the duplicate-lookup step by recency in addition to raw cosine
	// similarity, favoring a recently-written near-duplicate over a stale
	// one when the model decides whether to merge. Nil preserves plain
	// top-K-by-similarity lookup.
	Rescorer *store.Rescorer
}

// New constructs a write pipeline over a shared vector store.
func New(s *store.Store, model corekit.Model, embedder corekit.Embedder) *Pipeline {
	return &Pipeline{Store: s, Model: model, Embedder: embedder}
}

// Run executes the full write pipeline for one session's buffered turns.
// It never returns an error: a failed step drops its own piece of work and
// the pipeline continues with the remaining candidates, since partial writes are
// already durable in the journal.
func (p *Pipeline) Run(ctx context.Context, sessionID string, turns []Turn) {
	candidates, err := extract(ctx, p.Model, p.Embedder, sessionID, turns)
	if err != nil {
		log.Printf("[rmm/memory] extraction failed for session %s: %v", sessionID, err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	for _, candidate := range candidates {
		p.processCandidate(ctx, candidate)
	}
}

func (p *Pipeline) processCandidate(ctx context.Context, candidate Entry) {
	results, err := p.Store.SimilaritySearch(ctx, candidate.TopicSummary, DefaultTopK)
	if err != nil {
		log.Printf("[rmm/memory] similarity lookup failed for candidate: %v", err)
		return
	}
	if p.Rescorer != nil && len(results) > 0 {
		results = p.Rescorer.Rescore(results, store.TimestampsFromResults(results), time.Now(), len(results))
	}

	if len(results) == 0 {
		p.apply(ctx, []Action{{Kind: ActionAdd}}, candidate, nil)
		return
	}

	similar := make([]Retrieved, len(results))
	for i, r := range results {
		similar[i] = toRetrieved(r)
	}

	actions := decide(ctx, p.Model, candidate, similar)
	if len(actions) == 0 {
		return
	}
	p.apply(ctx, actions, candidate, similar)
}

func (p *Pipeline) apply(ctx context.Context, actions []Action, candidate Entry, similar []Retrieved) {
	for _, action := range actions {
		switch action.Kind {
		case ActionAdd:
			p.add(ctx, candidate.ID, candidate.SessionID, candidate.TopicSummary, candidate.RawDialogue, candidate.TurnReferences, time.Now())
		case ActionMerge:
			old := similar[action.Index]
			if err := p.Store.Delete([]string{old.ID}); err != nil {
				log.Printf("[rmm/memory] merge delete failed for %s: %v", old.ID, err)
				continue
			}
			p.add(ctx, "", old.SessionID, action.MergedSummary, old.RawDialogue, old.TurnReferences, old.Timestamp)
		}
	}
}

// add journals one document. A merged entry passes id "" so the store
// derives a fresh content hash for it; an extracted candidate keeps the
// UUID it was assigned at extraction time.
func (p *Pipeline) add(ctx context.Context, id, sessionID, summary, rawDialogue string, turnRefs []int, timestamp time.Time) {
	_, err := p.Store.Add(ctx, []store.Document{{
		ID:          id,
		PageContent: summary,
		Metadata: map[string]any{
			"sessionId":      sessionID,
			"timestamp":      timestamp.UTC().Format(time.RFC3339),
			"turnReferences": turnRefs,
			"rawDialogue":    rawDialogue,
		},
	}})
	if err != nil {
		log.Printf("[rmm/memory] add failed: %v", err)
	}
}

func toRetrieved(r store.SearchResult) Retrieved {
	e := Entry{
		ID:           r.ID,
		TopicSummary: r.PageContent,
	}
	if v, ok := r.Metadata["sessionId"].(string); ok {
		e.SessionID = v
	}
	if v, ok := r.Metadata["rawDialogue"].(string); ok {
		e.RawDialogue = v
	}
	if v, ok := r.Metadata["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.Timestamp = t
		}
	}
	e.TurnReferences = parseTurnReferences(r.Metadata["turnReferences"])
	return Retrieved{Entry: e, RelevanceScore: r.Score}
}

// parseTurnReferences recovers []int from the metadata value, tolerating
// the []any shape that a round trip through JSON produces.
func parseTurnReferences(v any) []int {
	switch refs := v.(type) {
	case []int:
		return refs
	case []any:
		out := make([]int, 0, len(refs))
		for _, r := range refs {
			switch n := r.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}
