package store

import (
	"testing"
	"time"
)

func TestRescorePrefersRecentNearDuplicate(t *testing.T) {
	now := time.Now()
	results := []SearchResult{
		{Document: Document{ID: "old", Metadata: map[string]any{"timestamp": now.Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)}}, Score: 0.91},
		{Document: Document{ID: "new", Metadata: map[string]any{"timestamp": now.Add(-1 * time.Hour).UTC().Format(time.RFC3339)}}, Score: 0.90},
	}

	r := Rescorer{RecencyHalfLife: 24 * time.Hour}
	ranked := r.Rescore(results, TimestampsFromResults(results), now, 2)

	if len(ranked) != 2 {
		t.Fatalf("got %d results, want 2", len(ranked))
	}
	if ranked[0].ID != "new" {
		t.Fatalf("expected the recent near-duplicate to rank first, got %q first", ranked[0].ID)
	}
}

func TestRescoreWithoutTimestampsKeepsSimilarityOrder(t *testing.T) {
	results := []SearchResult{
		{Document: Document{ID: "a"}, Score: 0.5},
		{Document: Document{ID: "b"}, Score: 0.8},
	}

	r := Rescorer{RecencyHalfLife: 24 * time.Hour}
	ranked := r.Rescore(results, map[string]time.Time{}, time.Now(), 2)

	if ranked[0].ID != "b" {
		t.Fatalf("expected higher-similarity result first, got %q", ranked[0].ID)
	}
}
