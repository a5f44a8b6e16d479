package reranker

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/goblincore/rmm/citation"
	"github.com/goblincore/rmm/corekit"
	"github.com/goblincore/rmm/matrix"
	"github.com/goblincore/rmm/memory"
	"github.com/goblincore/rmm/sampler"
)

// clampOverflow guards the dot product against a non-finite result,
// clamping to a large finite value of the same sign.
const clampOverflow = math.MaxFloat64 / 2

// TurnContext is the explicit, per-turn bag handed from BeforeModel
// through WrapModelCall to AfterModel. It is constructed fresh every turn
// and discarded afterward regardless of success or failure, so no turn
// can leak state into the next.
type TurnContext struct {
	Query            corekit.Vector
	AdaptedQuery     corekit.Vector
	Retrieved        []memory.Retrieved
	MemoryEmbeddings []corekit.Vector
	AdaptedMemories  []corekit.Vector
	Probabilities    []float64
	Selected         []int
	Citations        []CitationRecord
	TurnCount        int
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		if sum < 0 {
			return -clampOverflow
		}
		return clampOverflow
	}
	return sum
}

// adapt computes the residual embedding adaptation v + W·v.
func adapt(W *matrix.Matrix, v []float64) ([]float64, error) {
	wv, err := matrix.MatVec(W, v)
	if err != nil {
		return nil, err
	}
	return matrix.ResidualAdd(v, wv)
}

// WrapModelCall runs the turn hot path: adapt query and memory embeddings,
// score candidates, sample a top-M slate via Gumbel-Softmax, inject an
// ephemeral memories message, call the generator, and parse citations.
func WrapModelCall(
	ctx context.Context,
	model corekit.Model,
	weights Weights,
	cfg Config,
	query corekit.Vector,
	retrieved []memory.Retrieved,
	rng sampler.Rand,
	messages []corekit.Message,
) (TurnContext, corekit.ModelOutput, error) {
	adaptedQuery, err := adapt(weights.Wq, query)
	if err != nil {
		return TurnContext{}, corekit.ModelOutput{}, err
	}

	memEmbeddings := make([]corekit.Vector, len(retrieved))
	adaptedMemories := make([]corekit.Vector, len(retrieved))
	scores := make([]float64, len(retrieved))
	for i, r := range retrieved {
		memEmbeddings[i] = r.Embedding
		adapted, err := adapt(weights.Wm, r.Embedding)
		if err != nil {
			return TurnContext{}, corekit.ModelOutput{}, err
		}
		adaptedMemories[i] = adapted
		scores[i] = dot(adaptedQuery, adapted)
	}

	result := sampler.Sample(scores, cfg.TopM, cfg.Temperature, rng)

	ephemeral := buildMemoriesMessage(retrieved, result.Selected)
	callMessages := messages
	if ephemeral != "" {
		callMessages = append(append([]corekit.Message{}, messages...), corekit.Message{Role: "user", Content: ephemeral})
	}

	out, err := model.Generate(ctx, callMessages)
	if err != nil {
		return TurnContext{}, corekit.ModelOutput{}, err
	}

	citations := buildCitations(out.AsText(), retrieved, result.Selected, cfg.TopM)

	tc := TurnContext{
		Query:            query,
		AdaptedQuery:     adaptedQuery,
		Retrieved:        retrieved,
		MemoryEmbeddings: memEmbeddings,
		AdaptedMemories:  adaptedMemories,
		Probabilities:    result.Probabilities,
		Selected:         result.Selected,
		Citations:        citations,
	}
	return tc, out, nil
}

// buildMemoriesMessage renders the ephemeral <memories> block in selection
// order, j = 0..len(selected)-1.
func buildMemoriesMessage(retrieved []memory.Retrieved, selected []int) string {
	if len(selected) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<memories>\n")
	for j, idx := range selected {
		r := retrieved[idx]
		fmt.Fprintf(&b, "– Memory [%d]: %s\n    %s\n", j, r.TopicSummary, r.RawDialogue)
	}
	b.WriteString("</memories>")
	return b.String()
}

// buildCitations parses the generator's citation marker and produces a
// CitationRecord per selected memory (length M), or none on a malformed
// marker.
func buildCitations(text string, retrieved []memory.Retrieved, selected []int, topM int) []CitationRecord {
	result := citation.ParseAndValidate(text, topM)
	if result.Kind == citation.Malformed {
		return nil
	}

	citedSet := make(map[int]bool, len(result.Indices))
	for _, idx := range result.Indices {
		citedSet[idx] = true
	}

	records := make([]CitationRecord, len(selected))
	for turnIndex, memIdx := range selected {
		cited := result.Kind == citation.Cited && citedSet[turnIndex]
		reward := -1.0
		if cited {
			reward = 1.0
		}
		records[turnIndex] = CitationRecord{
			MemoryID:  retrieved[memIdx].ID,
			TurnIndex: turnIndex,
			Cited:     cited,
			Reward:    reward,
		}
	}
	return records
}
