package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goblincore/rmm/corekit"
)

// ActionKind distinguishes the two write actions the merge decision step
// can emit.
type ActionKind int

const (
	ActionAdd ActionKind = iota
	ActionMerge
)

// Action is one parsed decision for a single candidate entry. For
// ActionMerge, Index refers to the position within the similar-memory
// slate passed to the merge prompt.
type Action struct {
	Kind          ActionKind
	Index         int
	MergedSummary string
}

const mergeSystemPrompt = `You are deciding whether a new memory duplicates or extends existing memories.
Given the candidate summary and a list of similar existing memories (numbered from 0), respond with one or
more function-call-style lines:
  Add()
  Merge(index, "merged summary text")
Emit Add() if the candidate is genuinely new. Emit Merge(i, "...") to replace existing memory i with a
combined summary. You may emit multiple lines.`

var (
	addPattern   = regexp.MustCompile(`(?i)Add\(\s*\)`)
	mergePattern = regexp.MustCompile(`(?i)Merge\(\s*(\d+)\s*,\s*"((?:[^"\\]|\\.)*)"\s*\)`)
)

// decide calls the merge prompt for a candidate with at least one similar
// memory and parses the resulting actions. Returns nil on any LLM or
// parse failure — the candidate is simply dropped, per the write
// pipeline's graceful-degradation contract.
func decide(ctx context.Context, model corekit.Model, candidate Entry, similar []Retrieved) []Action {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate summary: %s\n\nSimilar existing memories:\n", candidate.TopicSummary)
	for i, s := range similar {
		fmt.Fprintf(&b, "%d: %s\n", i, s.TopicSummary)
	}

	messages := []corekit.Message{
		{Role: "system", Content: mergeSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	out, err := model.Generate(ctx, messages)
	if err != nil {
		return nil
	}

	text := responseText(out)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var actions []Action
	if addPattern.MatchString(text) {
		actions = append(actions, Action{Kind: ActionAdd})
	}
	for _, m := range mergePattern.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if idx < 0 || idx >= len(similar) {
			continue // out-of-bounds index: discard this action
		}
		summary := strings.ReplaceAll(m[2], `\"`, `"`)
		actions = append(actions, Action{Kind: ActionMerge, Index: idx, MergedSummary: summary})
	}
	return actions
}
