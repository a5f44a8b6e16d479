package store

import (
	"os"
	"testing"
)

func TestPrebuildStateMachine(t *testing.T) {
	base := testBasePath(t)
	s, err := Open(base, newWordBagEmbedder())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got := s.PrebuildStatus(); got != PrebuildEmpty {
		t.Fatalf("expected PrebuildEmpty, got %v", got)
	}

	if err := s.MarkPrebuildProgress(ProgressMarker{
		Method: "oracle", QuestionID: "q1", QuestionType: "factual",
		TotalSessions: 10, SessionsProcessed: 3,
	}); err != nil {
		t.Fatal(err)
	}
	if got := s.PrebuildStatus(); got != PrebuildInProgress {
		t.Fatalf("expected PrebuildInProgress, got %v", got)
	}

	if err := s.MarkPrebuildComplete(CompleteMarker{
		Method: "oracle", QuestionID: "q1", QuestionType: "factual",
		TotalSessions: 10, SessionsProcessed: 10, ExtractedMemories: 40, StoredMemories: 38,
	}); err != nil {
		t.Fatal(err)
	}
	if got := s.PrebuildStatus(); got != PrebuildComplete {
		t.Fatalf("expected PrebuildComplete, got %v", got)
	}

	// Completion must have deleted the progress file.
	if _, err := os.Stat(s.progressPath()); err == nil {
		t.Fatal("expected progress marker to be removed after completion")
	}
}

func TestClearPrebuildProgressIsIdempotent(t *testing.T) {
	base := testBasePath(t)
	s, err := Open(base, newWordBagEmbedder())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.ClearPrebuildProgress(); err != nil {
		t.Fatalf("expected no error clearing absent progress marker, got %v", err)
	}
}
