package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
)

// Compact rewrites the journal to hold exactly one upsert record per live
// entry, dropping every superseded upsert and every delete whose target is
// already gone. It is never invoked automatically: keeping it opt-in
// preserves the append-only audit trail crash recovery relies on.
//
// Compact blocks new writes for its duration by routing through the
// single-writer queue, so the rewritten journal reflects a consistent
// snapshot with no lost concurrent upsert.
func (s *Store) Compact() error {
	reply := make(chan error, 1)
	s.writes <- writeJob{records: nil, reply: reply, compact: true}
	return <-reply
}

func (s *Store) doCompact() error {
	s.mu.RLock()
	live := make([]*entry, 0, len(s.index))
	for _, e := range s.index {
		live = append(live, e)
	}
	s.mu.RUnlock()

	// Preserve insertion order so similarity ties break the same way after
	// a reopen of the compacted journal.
	sort.Slice(live, func(i, j int) bool { return live[i].insertSeq < live[j].insertSeq })

	records := make([]record, len(live))
	for i, e := range live {
		records[i] = upsertRecord(e.Document, e.Vector)
	}

	tmpPath := s.journalPath() + ".compact.tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("store: open compact tmp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("store: marshal compact record: %w", err)
		}
		w.Write(b)
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: flush compact tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: sync compact tmp: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, s.journalPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename compact journal: %w", err)
	}

	log.Printf("[rmm/store] compacted journal to %s entries (%s)", humanize.Comma(int64(len(records))), s.journalPath())
	return nil
}
