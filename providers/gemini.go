package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goblincore/rmm/corekit"
)

// GeminiEmbedder generates vector embeddings via the Gemini API, tagging
// query and document embeddings with the task types gemini-embedding-001
// uses to skew retrieval quality.
type GeminiEmbedder struct {
	apiKey    string
	dimension int
	client    *http.Client
}

// NewGeminiEmbedder creates an embedding provider for gemini-embedding-001.
func NewGeminiEmbedder(apiKey string, dimension int) *GeminiEmbedder {
	return &GeminiEmbedder{
		apiKey:    apiKey,
		dimension: dimension,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// EmbedQuery embeds a search query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) (corekit.Vector, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

// EmbedDocuments embeds a batch of stored memories, one request per
// document: the embedContent endpoint takes a single piece of content.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]corekit.Vector, error) {
	out := make([]corekit.Vector, len(texts))
	for i, t := range texts {
		v, err := e.embed(ctx, t, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, text, taskType string) (corekit.Vector, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("providers: gemini: no API key")
	}

	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent?key=" + e.apiKey
	reqBody := geminiEmbedRequest{
		Content:              geminiEmbedContent{Parts: []geminiEmbedPart{{Text: text}}},
		TaskType:             taskType,
		OutputDimensionality: e.dimension,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("providers: gemini embed %d: %s", resp.StatusCode, string(body[:min(len(body), 200)]))
	}

	var geminiResp geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("providers: gemini: decode: %w", err)
	}
	if len(geminiResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("providers: gemini: empty embedding returned")
	}
	return corekit.Vector(geminiResp.Embedding.Values), nil
}

// Dimension returns the configured embedding dimension.
func (e *GeminiEmbedder) Dimension() int { return e.dimension }

type geminiEmbedRequest struct {
	Content              geminiEmbedContent `json:"content"`
	TaskType             string             `json:"taskType"`
	OutputDimensionality int                `json:"outputDimensionality"`
}

type geminiEmbedContent struct {
	Parts []geminiEmbedPart `json:"parts"`
}

type geminiEmbedPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding geminiEmbedValues `json:"embedding"`
}

type geminiEmbedValues struct {
	Values []float64 `json:"values"`
}

// GeminiModel is a corekit.Model backed by Gemini's generateContent API.
// Roles map directly onto Gemini's "user"/"model" turn structure; a leading
// "system" message is folded into a systemInstruction.
type GeminiModel struct {
	apiKey string
	model  string
	client *http.Client
}

// GeminiModelOption configures a GeminiModel.
type GeminiModelOption func(*GeminiModel)

// WithGeminiModelName overrides the model id (default: gemini-2.5-flash-lite).
func WithGeminiModelName(name string) GeminiModelOption {
	return func(m *GeminiModel) { m.model = name }
}

// NewGeminiModel creates a generator backed by the Gemini API.
func NewGeminiModel(apiKey string, opts ...GeminiModelOption) *GeminiModel {
	m := &GeminiModel{
		apiKey: apiKey,
		model:  "gemini-2.5-flash-lite",
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate calls generateContent with the message history folded into
// Gemini's user/model turn format.
func (m *GeminiModel) Generate(ctx context.Context, messages []corekit.Message) (corekit.ModelOutput, error) {
	if m.apiKey == "" {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: no API key")
	}

	var system string
	var contents []geminiContent
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiEmbedPart{{Text: msg.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiEmbedPart{{Text: msg.Content}}})
		}
	}

	url := "https://generativelanguage.googleapis.com/v1beta/models/" + m.model + ":generateContent?key=" + m.apiKey
	reqBody := geminiGenerateRequest{
		Contents:         contents,
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: 1024, Temperature: 0.7},
	}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiEmbedPart{{Text: system}}}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini generate %d: %s", resp.StatusCode, string(body[:min(len(body), 300)]))
	}

	var genResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: decode: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return corekit.ModelOutput{}, fmt.Errorf("providers: gemini: empty response")
	}

	text := strings.TrimSpace(genResp.Candidates[0].Content.Parts[0].Text)
	return corekit.ModelOutput{Text: text}, nil
}

type geminiContent struct {
	Role  string            `json:"role,omitempty"`
	Parts []geminiEmbedPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}
