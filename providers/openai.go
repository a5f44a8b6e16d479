// Package providers supplies concrete corekit.Embedder and corekit.Model
// implementations over real embedding/generation APIs: OpenAI, Gemini,
// and a local Ollama server.
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

// OpenAIEmbedder generates vector embeddings via OpenAI's embeddings API.
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	dimension int
	baseURL   string
	client    *http.Client
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAIModel sets the embedding model (default: text-embedding-3-small).
func WithOpenAIModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.model = model }
}

// WithOpenAIDimension sets the output embedding dimension (default: 1536).
func WithOpenAIDimension(dim int) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.dimension = dim }
}

// WithOpenAIBaseURL overrides the API base URL, for Azure OpenAI, proxies,
// or compatible APIs.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.baseURL = url }
}

// NewOpenAIEmbedder creates an embedding provider for OpenAI's embedding models.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     "text-embedding-3-small",
		dimension: 1536,
		baseURL:   "https://api.openai.com",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmbedQuery embeds a single query string.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) (corekit.Vector, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of documents in a single request, relying
// on the embeddings endpoint's native array input.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]corekit.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embedBatch(ctx, texts)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([]corekit.Vector, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("providers: openai: no API key")
	}

	reqBody := openAIEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimension}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("providers: openai: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/v1/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("providers: openai: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: openai: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("providers: openai embed %d: %s", resp.StatusCode, string(body[:min(len(body), 200)]))
	}

	var oaiResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("providers: openai: decode: %w", err)
	}
	if len(oaiResp.Data) != len(texts) {
		return nil, fmt.Errorf("providers: openai: returned %d embeddings for %d inputs", len(oaiResp.Data), len(texts))
	}

	vecs := make([]corekit.Vector, len(oaiResp.Data))
	for i, d := range oaiResp.Data {
		vecs[i] = corekit.Vector(d.Embedding)
	}
	return vecs, nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type openAIEmbedResponse struct {
	Data []openAIEmbedData `json:"data"`
}

type openAIEmbedData struct {
	Embedding []float64 `json:"embedding"`
}
