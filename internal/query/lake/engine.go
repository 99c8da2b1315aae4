// Package lake serves tables stored as parquet objects in an S3-compatible
// bucket. Each query materializes the objects locally and reads them
// through an in-memory DuckDB.
package lake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/storage"
)

type Engine struct {
	Store   storage.ObjectStore
	Tables  map[string]string
	Timeout time.Duration
}

func NewEngine(store storage.ObjectStore, tables map[string]string, timeout time.Duration) *Engine {
	return &Engine{Store: store, Tables: tables, Timeout: timeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if err := query.CheckReadOnly(request.SQL); err != nil {
		return query.Result{}, err
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	db, cleanup, err := e.Materialize(ctx)
	if err != nil {
		return query.Result{}, err
	}
	defer cleanup()

	return sqldb.Run(ctx, db, request)
}

// Ping checks that every configured table object is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if e.Store == nil {
		return fmt.Errorf("object store is required")
	}
	for _, name := range e.tableNames() {
		if _, err := e.Store.Stat(ctx, e.Tables[name]); err != nil {
			return fmt.Errorf("stat table %q: %w", name, err)
		}
	}
	return nil
}

// Materialize downloads every table object into a temp dir and returns an
// in-memory DuckDB with one view per table. cleanup closes the database
// and removes the files.
func (e *Engine) Materialize(ctx context.Context) (*sql.DB, func(), error) {
	if e.Store == nil {
		return nil, nil, query.ConnectivityError("object store is required", nil)
	}
	if len(e.Tables) == 0 {
		return nil, nil, query.ExecutionError("no lake tables configured", nil)
	}

	workDir, err := os.MkdirTemp("", "askdb-lake-")
	if err != nil {
		return nil, nil, query.ExecutionError("create query temp dir", err)
	}
	removeDir := func() { _ = os.RemoveAll(workDir) }

	localPaths := make(map[string]string, len(e.Tables))
	for index, name := range e.tableNames() {
		key := e.Tables[name]
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(name), index))
		if err := e.download(ctx, key, localPath); err != nil {
			removeDir()
			return nil, nil, err
		}
		localPaths[name] = localPath
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		removeDir()
		return nil, nil, query.ConnectivityError("open duckdb", err)
	}
	cleanup := func() {
		_ = db.Close()
		removeDir()
	}

	for name, localPath := range localPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteString(localPath))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			cleanup()
			return nil, nil, query.ExecutionError(fmt.Sprintf("create view for table %q", name), err)
		}
	}
	return db, cleanup, nil
}

func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return query.ExecutionError(fmt.Sprintf("object %q not found", key), err)
		}
		return query.ConnectivityError(fmt.Sprintf("get object %q", key), err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return query.ExecutionError(fmt.Sprintf("create local copy of %q", key), err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return query.ConnectivityError(fmt.Sprintf("download object %q", key), err)
	}
	return file.Close()
}

func (e *Engine) tableNames() []string {
	names := make([]string, 0, len(e.Tables))
	for name := range e.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
