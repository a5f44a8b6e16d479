// Package corekit defines the narrow external interfaces the RMM core
// consumes: the generator (Model), the embedding provider (Embedder), and
// the per-user key-value persistence layer (SessionStore). Everything
// else — agent orchestration, transport, chat UI — stays on the far side
// of these three seams.
package corekit

import "context"

// Vector is a fixed-dimension embedding. All vectors sharing a Store,
// Embedder, and RerankerWeights must have equal length D; mismatch is a
// fatal ConfigurationError surfaced on first use.
type Vector []float64

// Block is one piece of structured model output content.
type Block struct {
	Type string
	Text string
}

// ModelOutput is the tagged variant the source's dynamically-typed
// response.text / response.content surface reduces to: either a plain
// text reply or a list of content blocks. AsText prefers Text, falling
// back to the first text block.
type ModelOutput struct {
	Text    string
	Content []Block
}

// AsText returns the textual content of the output, preferring Text and
// falling back to the first Block of type "text".
func (o ModelOutput) AsText() string {
	if o.Text != "" {
		return o.Text
	}
	for _, b := range o.Content {
		if b.Type == "" || b.Type == "text" {
			if b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

// Message is one turn of conversation handed to the generator.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Model is the generator collaborator. The core never requires tool calls.
type Model interface {
	Generate(ctx context.Context, messages []Message) (ModelOutput, error)
}

// Embedder produces vectors for queries and documents. Implementations may
// assign different vectors to embedQuery and embedDocuments call sites
// (e.g. a task-typed embedder), but the returned dimension must be stable.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (Vector, error)
	EmbedDocuments(ctx context.Context, texts []string) ([]Vector, error)
	Dimension() int
}

// StoredValue is a namespaced, versioned document as persisted by a
// SessionStore. Data is the caller's own JSON encoding of its payload —
// the store is a byte-oriented KV layer; serialization stays at the
// boundary rather than inside the store. Version lets load callers
// recognize and reject an incompatible schema.
type StoredValue struct {
	Version int
	Data    []byte
}

// SessionStore is key-value persistence for weights, accumulators, session
// metadata, and message buffers, namespaced by an ordered tuple of
// strings. Get returns (nil, nil) — not an error — on a missing key or a
// transient I/O failure; Put returns false (never an error) on failure.
// Callers log a warning on a false Put and treat a nil Get as "absent".
type SessionStore interface {
	Get(ctx context.Context, namespace []string, key string) (*StoredValue, error)
	Put(ctx context.Context, namespace []string, key string, value StoredValue) (bool, error)
	Delete(ctx context.Context, namespace []string, key string) error
}
