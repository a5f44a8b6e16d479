package memory

import (
	"context"
	"testing"

	"github.com/goblincore/rmm/corekit"
)

func TestDecideParsesAdd(t *testing.T) {
	model := stubModel{output: corekit.ModelOutput{Text: "Add()"}}
	actions := decide(context.Background(), model, Entry{TopicSummary: "new fact"}, []Retrieved{{Entry: Entry{TopicSummary: "old fact"}}})
	if len(actions) != 1 || actions[0].Kind != ActionAdd {
		t.Fatalf("expected single Add action, got %+v", actions)
	}
}

func TestDecideParsesMerge(t *testing.T) {
	model := stubModel{output: corekit.ModelOutput{Text: `Merge(0, "combined summary")`}}
	similar := []Retrieved{{Entry: Entry{ID: "m1", TopicSummary: "old fact"}}}
	actions := decide(context.Background(), model, Entry{TopicSummary: "new fact"}, similar)
	if len(actions) != 1 || actions[0].Kind != ActionMerge {
		t.Fatalf("expected single Merge action, got %+v", actions)
	}
	if actions[0].MergedSummary != "combined summary" {
		t.Errorf("unexpected merged summary: %q", actions[0].MergedSummary)
	}
}

func TestDecideDiscardsOutOfBoundsMergeIndex(t *testing.T) {
	model := stubModel{output: corekit.ModelOutput{Text: `Merge(5, "combined summary")`}}
	similar := []Retrieved{{Entry: Entry{ID: "m1"}}}
	actions := decide(context.Background(), model, Entry{TopicSummary: "new fact"}, similar)
	if len(actions) != 0 {
		t.Fatalf("expected out-of-bounds merge to be discarded, got %+v", actions)
	}
}

func TestDecideAllowsMultipleActions(t *testing.T) {
	model := stubModel{output: corekit.ModelOutput{Text: "Add()\n" + `Merge(0, "combined")`}}
	similar := []Retrieved{{Entry: Entry{ID: "m1"}}}
	actions := decide(context.Background(), model, Entry{TopicSummary: "new fact"}, similar)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %+v", actions)
	}
}

func TestDecideReturnsNilOnGeneratorError(t *testing.T) {
	model := stubModel{err: errGenerate}
	actions := decide(context.Background(), model, Entry{}, []Retrieved{{}})
	if actions != nil {
		t.Fatalf("expected nil actions on generator error, got %+v", actions)
	}
}

var errGenerate = context.DeadlineExceeded
