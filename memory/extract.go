package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/goblincore/rmm/corekit"
)

const extractionSystemPrompt = `You are reviewing a conversation to extract durable facts worth remembering long-term.
Return a JSON object of the form {"extracted_memories":[{"summary":"...","reference":[0,1]}]}.
"reference" lists the zero-based turn indices that support the summary.
If nothing is worth remembering, return the string NO_TRAIT instead of an object.`

// extractedMemory is the wire shape of one element of extracted_memories.
type extractedMemory struct {
	Summary   string `json:"summary"`
	Reference []int  `json:"reference"`
}

type extractionPayload struct {
	ExtractedMemories []extractedMemory `json:"extracted_memories"`
}

// formatDialogue renders turns as "Turn i: SPEAKER_n: text" lines, the
// exact shape the extraction prompt expects.
func formatDialogue(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "Turn %d: %s: %s\n", t.Index, t.Speaker, t.Text)
	}
	return b.String()
}

// extract calls the generator with the extraction prompt and parses its
// response into candidate entries. Returns (nil, nil) — not an error — on
// NO_TRAIT, an empty turn set, or any parse failure; the pipeline treats
// that as a no-op for this session.
func extract(ctx context.Context, model corekit.Model, embedder corekit.Embedder, sessionID string, turns []Turn) ([]Entry, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	messages := []corekit.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: formatDialogue(turns)},
	}

	out, err := model.Generate(ctx, messages)
	if err != nil {
		return nil, nil
	}

	raw := responseText(out)
	raw = stripCodeFence(raw)
	raw = strings.TrimSpace(raw)

	if raw == "" || raw == `"NO_TRAIT"` || raw == "NO_TRAIT" {
		return nil, nil
	}

	// Tolerate {"NO_TRAIT": true}-style object fields alongside the bare
	// string form the prompt requests.
	var probe map[string]any
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		if _, ok := probe["NO_TRAIT"]; ok {
			return nil, nil
		}
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil
	}
	if len(payload.ExtractedMemories) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(payload.ExtractedMemories))
	summaries := make([]string, 0, len(payload.ExtractedMemories))
	for _, em := range payload.ExtractedMemories {
		if strings.TrimSpace(em.Summary) == "" {
			continue
		}
		summaries = append(summaries, em.Summary)
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, summaries)
	if err != nil || len(vectors) != len(summaries) {
		return nil, nil
	}

	i := 0
	for _, em := range payload.ExtractedMemories {
		if strings.TrimSpace(em.Summary) == "" {
			continue
		}
		entries = append(entries, Entry{
			ID:             uuid.NewString(),
			TopicSummary:   em.Summary,
			RawDialogue:    formatDialogue(turns),
			SessionID:      sessionID,
			TurnReferences: em.Reference,
			Embedding:      vectors[i],
		})
		i++
	}
	return entries, nil
}

// responseText prefers ModelOutput.Text and falls back to the first
// content block.
func responseText(out corekit.ModelOutput) string {
	return out.AsText()
}

// stripCodeFence removes a single leading/trailing ``` or ```json fence,
// tolerating models that wrap JSON output in Markdown.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
