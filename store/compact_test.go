package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCompactDropsSupersededRecords(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "mem")
	embedder := newWordBagEmbedder()

	s, err := Open(base, embedder)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Add(ctx, []Document{{ID: "m1", PageContent: "User likes hiking"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Re-add under the same id (supersedes the first upsert) and add a
	// second entry that will be deleted.
	if _, err := s.Add(ctx, []Document{{ID: "m1", PageContent: "User really likes hiking"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, []Document{{ID: "m2", PageContent: "User cooked pasta"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete([]string{"m2"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	before := s.Len()

	if err := s.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	info, err := os.Stat(base + ".journal.jsonl")
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	lines := countLines(t, base+".journal.jsonl")
	if lines != before {
		t.Fatalf("compacted journal has %d lines, want %d (one per live entry)", lines, before)
	}
	if info.Size() == 0 {
		t.Fatalf("compacted journal is empty")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(base, embedder)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != before {
		t.Fatalf("reopened store has %d entries, want %d", reopened.Len(), before)
	}
	results := reopened.SimilaritySearchByVector(embedder.vector("hiking"), 1)
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("unexpected search result after compact+reopen: %+v", results)
	}
	if got := results[0].PageContent; got != "User really likes hiking" {
		t.Fatalf("compact kept stale content: %q", got)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
