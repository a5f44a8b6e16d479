package store

import (
	"encoding/json"
	"os"
	"time"
)

// prebuildSchemaVersion is the fixed schemaVersion written to every marker
// file; the journal's own schema is likewise frozen at 1.
const prebuildSchemaVersion = 1

// ProgressMarker records an in-flight offline ingestion run.
type ProgressMarker struct {
	SchemaVersion     int    `json:"schemaVersion"`
	Method            string `json:"method"`
	QuestionID        string `json:"questionId"`
	QuestionType      string `json:"questionType"`
	TotalSessions     int    `json:"totalSessions"`
	SessionsProcessed int    `json:"sessionsProcessed"`
	ExtractedMemories int    `json:"extractedMemories"`
	StoredMemories    int    `json:"storedMemories"`
	UpdatedAt         string `json:"updatedAt"`
}

// CompleteMarker records a finished offline ingestion run.
type CompleteMarker struct {
	SchemaVersion     int    `json:"schemaVersion"`
	Method            string `json:"method"`
	QuestionID        string `json:"questionId"`
	QuestionType      string `json:"questionType"`
	TotalSessions     int    `json:"totalSessions"`
	SessionsProcessed int    `json:"sessionsProcessed"`
	ExtractedMemories int    `json:"extractedMemories"`
	StoredMemories    int    `json:"storedMemories"`
	CompletedAt       string `json:"completedAt"`
}

// MarkPrebuildProgress atomically writes a progress checkpoint. State
// machine: empty -> in-progress (this file exists).
func (s *Store) MarkPrebuildProgress(m ProgressMarker) error {
	m.SchemaVersion = prebuildSchemaVersion
	if m.UpdatedAt == "" {
		m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return writeJSONAtomic(s.progressPath(), m)
}

// MarkPrebuildComplete atomically writes the completion marker and deletes
// the progress checkpoint. State machine: in-progress -> complete.
func (s *Store) MarkPrebuildComplete(m CompleteMarker) error {
	m.SchemaVersion = prebuildSchemaVersion
	if m.CompletedAt == "" {
		m.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := writeJSONAtomic(s.completePath(), m); err != nil {
		return err
	}
	return s.ClearPrebuildProgress()
}

// ClearPrebuildProgress deletes the progress checkpoint, if any.
func (s *Store) ClearPrebuildProgress() error {
	err := os.Remove(s.progressPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// PrebuildState reports the current state of the prebuild state machine.
type PrebuildState int

const (
	PrebuildEmpty PrebuildState = iota
	PrebuildInProgress
	PrebuildComplete
)

// PrebuildStatus inspects the marker files to determine the current state.
// Re-opening at any state is safe: a crash mid-write leaves at most a
// partial marker file, which is treated as "in progress" if readable, or
// "empty" if unreadable.
func (s *Store) PrebuildStatus() PrebuildState {
	if _, err := os.Stat(s.completePath()); err == nil {
		return PrebuildComplete
	}
	if _, err := os.Stat(s.progressPath()); err == nil {
		return PrebuildInProgress
	}
	return PrebuildEmpty
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
