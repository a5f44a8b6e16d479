package rmm

import (
	"fmt"
	"log"

	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/store"
)

// Config is the middleware's configuration record. The VectorStore,
// Embedder, and EmbeddingDimension fields are mandatory and paired; Model
// and Sessions are the remaining two external collaborators the five
// hooks need at construction time alongside the reranker's tuning knobs.
type Config struct {
	VectorStore        *store.Store
	Embedder           corekit.Embedder
	EmbeddingDimension int
	Model              corekit.Model
	Sessions           corekit.SessionStore

	TopK          int
	TopM          int
	Temperature   float64
	LearningRate  float64
	Baseline      float64
	BatchSize     int
	ClipThreshold float64

	SessionID string
	Enabled   bool
}

// DefaultConfig returns the standard tuning defaults. Callers populate
// the mandatory collaborator fields (VectorStore, Embedder,
// EmbeddingDimension, Model, Sessions) on top of this.
func DefaultConfig() Config {
	return Config{
		TopK:          20,
		TopM:          5,
		Temperature:   0.5,
		LearningRate:  0.001,
		Baseline:      0.5,
		BatchSize:     4,
		ClipThreshold: 100,
		Enabled:       true,
	}
}

// ConfigurationError reports a fatal misconfiguration raised at
// construction time and never swallowed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "rmm: " + e.Reason }

// validate enforces the fatal misconfiguration rules: topM must not
// exceed topK, and embedder/embeddingDimension are both required (one
// without the other and neither at all are both rejected).
func (c Config) validate() error {
	hasEmbedder := c.Embedder != nil
	hasDimension := c.EmbeddingDimension > 0
	if hasEmbedder != hasDimension {
		return &ConfigurationError{Reason: "embedder and embeddingDimension must be supplied together"}
	}
	if !hasEmbedder {
		return &ConfigurationError{Reason: "embedder and embeddingDimension are required"}
	}
	if c.TopM > c.TopK {
		return &ConfigurationError{Reason: fmt.Sprintf("topM (%d) must not exceed topK (%d)", c.TopM, c.TopK)}
	}
	if c.Temperature <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("temperature must be positive, got %g", c.Temperature)}
	}
	if c.VectorStore == nil {
		return &ConfigurationError{Reason: "vectorStore is required"}
	}
	if c.Model == nil {
		return &ConfigurationError{Reason: "model is required"}
	}
	if c.Sessions == nil {
		return &ConfigurationError{Reason: "sessions is required"}
	}
	if vd := c.VectorStore.EmbedderDimension(); vd != c.EmbeddingDimension {
		log.Printf("[rmm] warning: vector store's internal embedder dimension %d differs from configured embeddingDimension %d", vd, c.EmbeddingDimension)
	}
	return nil
}
