// Package memory implements Prospective Reflection: the write pipeline
// that turns a session's dialogue into durable memory entries in the
// vector store, deduplicating and merging against existing memories
// through an extract, lookup, decide, apply chain.
package memory

import (
	"time"

	"github.com/goblincore/rmm/corekit"
)

// Entry is a durable memory record. Id is stable: either supplied
// explicitly or derived as a content+metadata hash by the vector store.
type Entry struct {
	ID             string
	TopicSummary   string
	RawDialogue    string
	SessionID      string
	Timestamp      time.Time
	TurnReferences []int
	Embedding      corekit.Vector
}

// Retrieved enriches an Entry with a per-query relevance score from the
// store, and, once reranked, the sampler's adapted embeddings and rerank
// score. Ephemeral — built fresh per turn, never persisted as such.
type Retrieved struct {
	Entry
	RelevanceScore   float64
	RerankScore      float64
	HasRerankScore   bool
	AdaptedEmbedding corekit.Vector
}

// Turn is one exchange in a session's dialogue, numbered from 0.
type Turn struct {
	Index   int
	Speaker string // "SPEAKER_1" or "SPEAKER_2"
	Text    string
}
