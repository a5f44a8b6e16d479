package providers

import (
	"context"
	"testing"

	"github.com/goblincore/rmm/corekit"
)

func TestGeminiEmbedderEmptyKey(t *testing.T) {
	e := NewGeminiEmbedder("", 768)
	if _, err := e.EmbedQuery(context.Background(), "hello"); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestGeminiEmbedderDimension(t *testing.T) {
	e := NewGeminiEmbedder("key", 768)
	if e.Dimension() != 768 {
		t.Errorf("expected 768, got %d", e.Dimension())
	}
}

// Gemini's embedContent/generateContent endpoints hardcode
// generativelanguage.googleapis.com with no base-URL override, unlike the
// OpenAI and Ollama clients, so only the key-less fast-fail path is
// reachable without a live key.

func TestGeminiModelEmptyKey(t *testing.T) {
	m := NewGeminiModel("")
	_, err := m.Generate(context.Background(), []corekit.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestGeminiModelDefaultName(t *testing.T) {
	m := NewGeminiModel("key")
	if m.model != "gemini-2.5-flash-lite" {
		t.Errorf("expected default model name, got %s", m.model)
	}
}

func TestGeminiModelCustomName(t *testing.T) {
	m := NewGeminiModel("key", WithGeminiModelName("gemini-2.5-pro"))
	if m.model != "gemini-2.5-pro" {
		t.Errorf("expected gemini-2.5-pro, got %s", m.model)
	}
}
