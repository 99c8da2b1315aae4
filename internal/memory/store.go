// Package memory keeps a bounded log of answered questions and recalls
// prior answers for near-duplicate questions.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/observability"
)

const (
	DefaultCapacity  = 200
	DefaultThreshold = 0.5
)

type Options struct {
	Capacity int
	// Recaller decides whether a new question matches a stored one.
	// Defaults to LocalRecaller with DefaultThreshold.
	Recaller Recaller
	Logger   *slog.Logger
	Now      func() time.Time
}

// Store is an ordered, oldest-first, capacity-bounded interaction log
// mirrored to a JSON file. Every Append rewrites the whole file.
type Store struct {
	path     string
	capacity int
	recaller Recaller
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	records []Record
}

// Open loads the interaction log at path. A missing file yields an empty
// store; an unreadable or malformed file is logged and also yields an
// empty store.
func Open(path string, opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Recaller == nil {
		opts.Recaller = LocalRecaller{Threshold: DefaultThreshold}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		path:     path,
		capacity: opts.Capacity,
		recaller: opts.Recaller,
		logger:   observability.OrDiscard(opts.Logger),
		now:      opts.Now,
	}

	records, err := readLog(path)
	if err != nil {
		s.logger.Warn("interaction log unreadable, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		records = nil
	}
	for i := range records {
		if records[i].QuestionTokens == nil {
			records[i].QuestionTokens = Normalize(records[i].Question)
		}
		if records[i].Results == nil {
			records[i].Results = []map[string]any{}
		}
	}
	if len(records) > s.capacity {
		records = records[len(records)-s.capacity:]
	}
	s.records = records
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of the log, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.records)
}

// FindSimilar asks the recaller for a prior answer to question. Any
// recall failure is logged and reported as a miss. The store is never
// modified.
func (s *Store) FindSimilar(ctx context.Context, question string) (CachedAnswer, bool) {
	snapshot := s.Records()
	answer, ok, err := s.recaller.Recall(ctx, question, snapshot)
	switch {
	case err != nil:
		observability.ObserveMemoryLookup("error")
		s.logger.WarnContext(ctx, "memory recall failed, treating as miss",
			slog.String("error", err.Error()),
		)
		return CachedAnswer{}, false
	case !ok:
		observability.ObserveMemoryLookup("miss")
		return CachedAnswer{}, false
	}
	observability.ObserveMemoryLookup("hit")
	return answer, true
}

// Append records a new interaction, evicts the oldest records beyond
// capacity and rewrites the log file. A write failure is logged and
// counted but never returned: the in-memory store keeps the record.
func (s *Store) Append(ctx context.Context, in Interaction) Record {
	results, err := copyResults(in.Results)
	if err != nil {
		s.logger.WarnContext(ctx, "results not serializable, storing without rows",
			slog.String("error", err.Error()),
		)
		results = []map[string]any{}
	}
	record := Record{
		Question:       in.Question,
		QuestionTokens: Normalize(in.Question),
		SQLQuery:       optional(in.SQL),
		Summary:        optional(in.Summary),
		Results:        results,
		Timestamp:      s.now().UTC().Truncate(time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if overflow := len(s.records) - s.capacity; overflow > 0 {
		s.records = append([]Record(nil), s.records[overflow:]...)
	}
	if err := writeLog(s.path, s.records); err != nil {
		observability.IncrementMemoryPersistFailure()
		s.logger.WarnContext(ctx, "interaction log write failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}
	return record.clone()
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, record := range records {
		out[i] = record.clone()
	}
	return out
}

func readLog(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read interaction log: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var records []Record
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode interaction log: %w", err)
	}
	return records, nil
}

func writeLog(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".interactions-*.json")
	if err != nil {
		return fmt.Errorf("create temp log file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode interaction log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp log file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("persist interaction log: %w", err)
	}
	return nil
}
