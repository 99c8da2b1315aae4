package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
)

const describeSystemPrompt = "You are a database analyst who documents schemas for people writing SQL."

const describeUserPrompt = `Below is the extracted database schema: table names, column names, data types and sample values.

DATABASE SCHEMA:
%s

Write a short description for each table and a brief description for each column.
Respond with valid JSON only, using exactly this structure:
{"tables": {"<table_name>": {"description": "...", "columns": {"<column_name>": {"description": "..."}}}}}`

type ProbeFunc func(ctx context.Context) (Schema, error)

// Describer turns a probed schema into the schema description document and
// caches it on disk. The cache is an opaque text blob: once written it is
// returned as-is until removed.
type Describer struct {
	Generator llm.Generator
	CachePath string
	Logger    *slog.Logger
}

// Load returns the cached document, or builds and caches it.
func (d *Describer) Load(ctx context.Context, probe ProbeFunc) (string, error) {
	if d.CachePath != "" {
		raw, err := os.ReadFile(d.CachePath)
		switch {
		case err == nil && strings.TrimSpace(string(raw)) != "":
			return string(raw), nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			d.logger().WarnContext(ctx, "schema cache unreadable, rebuilding",
				slog.String("path", d.CachePath),
				slog.String("error", err.Error()),
			)
		}
	}
	return d.Build(ctx, probe)
}

// Build probes, describes and writes the cache regardless of its state.
func (d *Describer) Build(ctx context.Context, probe ProbeFunc) (string, error) {
	if probe == nil {
		return "", fmt.Errorf("schema probe is required")
	}
	probed, err := probe(ctx)
	if err != nil {
		return "", fmt.Errorf("probe schema: %w", err)
	}
	doc := d.Describe(ctx, probed).Text()

	if d.CachePath != "" {
		if err := writeCache(d.CachePath, doc); err != nil {
			d.logger().WarnContext(ctx, "schema cache write failed",
				slog.String("path", d.CachePath),
				slog.String("error", err.Error()),
			)
		}
	}
	return doc, nil
}

// Describe asks the reasoning service for table and column descriptions and
// merges them in. Any failure returns s unchanged.
func (d *Describer) Describe(ctx context.Context, s Schema) Schema {
	if d.Generator == nil || len(s.Tables) == 0 {
		return s
	}
	reply, err := d.Generator.Generate(ctx, describeSystemPrompt, fmt.Sprintf(describeUserPrompt, s.Text()))
	if err != nil {
		d.logger().WarnContext(ctx, "schema description failed, using plain schema",
			slog.String("error", err.Error()),
		)
		return s
	}
	descriptions, err := parseDescriptions(reply)
	if err != nil {
		d.logger().WarnContext(ctx, "schema description malformed, using plain schema",
			slog.String("error", err.Error()),
		)
		return s
	}
	return merge(s, descriptions)
}

func (d *Describer) logger() *slog.Logger {
	return observability.OrDiscard(d.Logger)
}

type descriptionDoc struct {
	Tables map[string]struct {
		Description string `json:"description"`
		Columns     map[string]struct {
			Description string `json:"description"`
		} `json:"columns"`
	} `json:"tables"`
}

func parseDescriptions(reply string) (descriptionDoc, error) {
	var doc descriptionDoc
	if err := json.Unmarshal([]byte(llm.StripCodeFences(reply)), &doc); err != nil {
		return descriptionDoc{}, fmt.Errorf("decode description json: %w", err)
	}
	if len(doc.Tables) == 0 {
		return descriptionDoc{}, fmt.Errorf("description json has no tables")
	}
	return doc, nil
}

func merge(s Schema, doc descriptionDoc) Schema {
	out := Schema{Tables: make([]Table, len(s.Tables))}
	for i, table := range s.Tables {
		table.Columns = append([]Column(nil), table.Columns...)
		described, ok := doc.Tables[table.Name]
		if ok {
			table.Description = strings.TrimSpace(described.Description)
			for j := range table.Columns {
				if column, ok := described.Columns[table.Columns[j].Name]; ok {
					table.Columns[j].Description = strings.TrimSpace(column.Description)
				}
			}
		}
		out.Tables[i] = table
	}
	return out
}

func writeCache(path, doc string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".schema-*.txt")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DocLoader loads the schema document once per process. A failed load is
// retried on the next call.
type DocLoader struct {
	load func(ctx context.Context) (string, error)

	mu  sync.Mutex
	doc string
	ok  bool
}

func NewDocLoader(load func(ctx context.Context) (string, error)) *DocLoader {
	return &DocLoader{load: load}
}

// StaticDoc returns a loader that always yields doc.
func StaticDoc(doc string) *DocLoader {
	return &DocLoader{doc: doc, ok: true}
}

func (l *DocLoader) Doc(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ok {
		return l.doc, nil
	}
	if l.load == nil {
		return "", fmt.Errorf("schema loader is not configured")
	}
	doc, err := l.load(ctx)
	if err != nil {
		return "", err
	}
	l.doc, l.ok = doc, true
	return doc, nil
}
