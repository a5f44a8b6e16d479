package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goblincore/rmm/corekit"
)

// OllamaEmbedder generates vector embeddings via a local Ollama server. No
// API key required.
type OllamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaHost sets the Ollama server URL (default: http://localhost:11434).
func WithOllamaHost(host string) OllamaOption {
	return func(e *OllamaEmbedder) { e.host = host }
}

// NewOllamaEmbedder creates an embedding provider for a local Ollama
// instance. The model must already be pulled (e.g. "nomic-embed-text",
// "all-minilm"); dimension must match the model's output dimension.
func NewOllamaEmbedder(model string, dimension int, opts ...OllamaOption) *OllamaEmbedder {
	e := &OllamaEmbedder{
		host:      "http://localhost:11434",
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmbedQuery embeds a single string.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) (corekit.Vector, error) {
	vecs, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds each document with its own request: /api/embed is
// called with a single input string per document.
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]corekit.Vector, error) {
	out := make([]corekit.Vector, len(texts))
	for i, t := range texts {
		vecs, err := e.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vecs[0]
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]corekit.Vector, error) {
	reqBody := ollamaEmbedRequest{Model: e.model, Input: text}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("providers: ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.host+"/api/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("providers: ollama: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: ollama: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("providers: ollama embed %d: %s", resp.StatusCode, string(body[:min(len(body), 200)]))
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("providers: ollama: decode: %w", err)
	}
	if len(ollamaResp.Embeddings) == 0 {
		return nil, fmt.Errorf("providers: ollama: empty embedding returned")
	}

	vecs := make([]corekit.Vector, len(ollamaResp.Embeddings))
	for i, v := range ollamaResp.Embeddings {
		vecs[i] = corekit.Vector(v)
	}
	return vecs, nil
}

// Dimension returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}
