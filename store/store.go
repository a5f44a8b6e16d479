// Package store implements the crash-safe, resumable content-addressed
// vector store: an append-only NDJSON journal folded into an in-memory
// index, cosine-similarity top-K search, and prebuild progress markers.
// Writes are serialized through a single-writer goroutine so concurrent
// callers still produce a well-ordered journal.
package store

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/goblincore/rmm/corekit"
)

// EmbeddingCountMismatch is returned by Add when the embedder returns a
// different number of vectors than documents submitted.
type EmbeddingCountMismatch struct {
	Documents int
	Embedded  int
}

func (e *EmbeddingCountMismatch) Error() string {
	return fmt.Sprintf("store: embedder returned %d vectors for %d documents", e.Embedded, e.Documents)
}

// Document is a page of content to be embedded and indexed. Metadata
// always echoes the resolved ID back under the "id" key once stored.
type Document struct {
	ID          string
	PageContent string
	Metadata    map[string]any
}

// entry is one indexed memory: content plus its embedding.
type entry struct {
	Document
	Vector    []float64
	insertSeq int64
}

// SearchResult is a document scored against a query by cosine similarity.
type SearchResult struct {
	Document
	Score float64
}

// Store is a single content-addressed vector index backed by an
// append-only NDJSON journal at basePath+".journal.jsonl".
type Store struct {
	basePath string
	embedder corekit.Embedder

	mu      sync.RWMutex
	index   map[string]*entry
	counter int64 // monotonically increasing insertion sequence, also used in ID derivation

	writes chan writeJob
	done   chan struct{}
}

type writeJob struct {
	records []record
	reply   chan error
	compact bool
}

// Open loads (or creates) the journal at basePath and starts the
// single-writer queue. basePath should not include an extension; the
// journal file is basePath+".journal.jsonl".
func Open(basePath string, embedder corekit.Embedder) (*Store, error) {
	s := &Store{
		basePath: basePath,
		embedder: embedder,
		index:    make(map[string]*entry),
		writes:   make(chan writeJob, 16),
		done:     make(chan struct{}),
	}

	if err := s.loadJournal(); err != nil {
		return nil, fmt.Errorf("store: load journal: %w", err)
	}

	go s.writeLoop()

	if info, err := os.Stat(s.journalPath()); err == nil {
		log.Printf("[rmm/store] opened %s (%s, %d entries)", s.journalPath(), humanize.Bytes(uint64(info.Size())), len(s.index))
	}

	return s, nil
}

func (s *Store) journalPath() string  { return s.basePath + ".journal.jsonl" }
func (s *Store) completePath() string { return s.basePath + ".complete.json" }
func (s *Store) progressPath() string { return s.basePath + ".progress.json" }

// loadJournal folds the journal file from the start, applying upserts
// (overwrite by id) and deletes in order. Malformed lines — including a
// truncated trailing line left by a crash mid-write — are skipped with a
// warning; the store remains consistent with the prefix it could parse.
func (s *Store) loadJournal() error {
	f, err := os.Open(s.journalPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var seq int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r, err := decodeRecord(line)
		if err != nil {
			log.Printf("[rmm/store] skipping malformed journal line: %v", err)
			continue
		}
		switch r.Op {
		case opUpsert:
			seq++
			s.index[r.ID] = &entry{
				Document:  Document{ID: r.ID, PageContent: r.PageContent, Metadata: r.Metadata},
				Vector:    r.Vector,
				insertSeq: seq,
			}
		case opDelete:
			delete(s.index, r.ID)
		}
	}
	s.counter = seq
	// scanner.Err() surfaces I/O errors, not malformed-content errors (those
	// are already tolerated above); a truncated final line without a
	// trailing newline is still returned by Scan and skipped above as
	// malformed, which is the crash-recovery case reload must accept.
	if err := scanner.Err(); err != nil {
		return err
	}
	// Terminate a truncated final line so the next append starts on a fresh
	// line instead of running into the partial record.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			af, err := os.OpenFile(s.journalPath(), os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return err
			}
			defer af.Close()
			if _, err := af.WriteString("\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeLoop is the single writer: it appends journal lines in the order
// jobs are submitted from any call site, so upserts and deletes land in
// the journal in submission order.
func (s *Store) writeLoop() {
	defer close(s.done)
	for job := range s.writes {
		if job.compact {
			job.reply <- s.doCompact()
			continue
		}
		job.reply <- s.appendRecords(job.records)
	}
}

func (s *Store) appendRecords(records []record) error {
	f, err := os.OpenFile(s.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("store: open journal for append: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("store: marshal record: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("store: write record: %w", err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			return fmt.Errorf("store: write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return f.Sync()
}

// submit appends records through the single-writer queue and applies them
// to the in-memory index only after a successful journal write.
func (s *Store) submit(records []record) error {
	reply := make(chan error, 1)
	s.writes <- writeJob{records: records, reply: reply}
	if err := <-reply; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		switch r.Op {
		case opUpsert:
			s.counter++
			s.index[r.ID] = &entry{
				Document:  Document{ID: r.ID, PageContent: r.PageContent, Metadata: r.Metadata},
				Vector:    r.Vector,
				insertSeq: s.counter,
			}
		case opDelete:
			delete(s.index, r.ID)
		}
	}
	return nil
}

// Add embeds and journals a batch of documents in one call, deriving an ID
// for any document with neither an ID field nor a Metadata "id" (the ID
// field takes precedence when both are set). Metadata always echoes the
// resolved ID back under "id".
func (s *Store) Add(ctx context.Context, documents []Document) ([]string, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.PageContent
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("store: embed documents: %w", err)
	}
	if len(vectors) != len(documents) {
		return nil, &EmbeddingCountMismatch{Documents: len(documents), Embedded: len(vectors)}
	}

	records := make([]record, len(documents))
	ids := make([]string, len(documents))

	s.mu.Lock()
	localCounter := s.counter
	s.mu.Unlock()

	for i, d := range documents {
		localCounter++
		id := resolvedID(d)
		if id == "" {
			id = deriveID(d.PageContent, d.Metadata, i, localCounter)
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		d.Metadata["id"] = id

		vecFloat := make([]float64, len(vectors[i]))
		copy(vecFloat, vectors[i])

		records[i] = upsertRecord(Document{ID: id, PageContent: d.PageContent, Metadata: d.Metadata}, vecFloat)
		ids[i] = id
	}

	if err := s.submit(records); err != nil {
		return nil, fmt.Errorf("store: append upserts: %w", err)
	}
	return ids, nil
}

func resolvedID(d Document) string {
	if d.ID != "" {
		return d.ID
	}
	if d.Metadata != nil {
		if v, ok := d.Metadata["id"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// deriveID computes doc-<24 hex chars of SHA256(pageContent‖metadata‖position‖counter)>.
func deriveID(pageContent string, metadata map[string]any, position int, counter int64) string {
	metaJSON, _ := json.Marshal(metadata)
	h := sha256.New()
	h.Write([]byte(pageContent))
	h.Write(metaJSON)
	fmt.Fprintf(h, "%d|%d", position, counter)
	sum := h.Sum(nil)
	return "doc-" + hex.EncodeToString(sum)[:24]
}

// Delete removes documents by ID. Unknown IDs are silently skipped.
func (s *Store) Delete(ids []string) error {
	s.mu.RLock()
	var records []record
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			records = append(records, deleteRecord(id))
		}
	}
	s.mu.RUnlock()

	if len(records) == 0 {
		return nil
	}
	return s.submit(records)
}

// SimilaritySearch embeds the query and returns the top-k documents by
// cosine similarity over the entire in-memory index, tie-broken by
// insertion order. Zero-norm vectors score 0, never NaN.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	qv, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}
	return s.SimilaritySearchByVector(qv, k), nil
}

// SimilaritySearchByVector is SimilaritySearch without an embed call, used
// when a caller already has the query vector.
func (s *Store) SimilaritySearchByVector(qv []float64, k int) []SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		e     *entry
		score float64
	}
	all := make([]scored, 0, len(s.index))
	for _, e := range s.index {
		all = append(all, scored{e: e, score: cosineSimilarity(qv, e.Vector)})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].e.insertSeq < all[j].e.insertSeq
	})

	if k > len(all) {
		k = len(all)
	}
	if k < 0 {
		k = 0
	}

	out := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		meta := cloneMetadata(all[i].e.Metadata)
		meta["score"] = all[i].score
		out[i] = SearchResult{
			Document: Document{ID: all[i].e.ID, PageContent: all[i].e.PageContent, Metadata: meta},
			Score:    all[i].score,
		}
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Close stops the single-writer goroutine. The journal itself requires no
// explicit flush beyond what Add/Delete already fsynced.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return nil
}

// Len returns the number of live entries in the in-memory index.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// EmbedderDimension reports the dimension of the embedder this store was
// opened with, letting callers detect a mismatch against a separately
// configured dimension.
func (s *Store) EmbedderDimension() int {
	return s.embedder.Dimension()
}
