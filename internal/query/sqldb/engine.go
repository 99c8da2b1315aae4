// Package sqldb executes read-only statements against any database/sql
// connection pool.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askdb/askdb/internal/query"
)

type Engine struct {
	DB      *sql.DB
	Timeout time.Duration
}

func NewEngine(db *sql.DB, timeout time.Duration) *Engine {
	return &Engine{DB: db, Timeout: timeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if err := query.CheckReadOnly(request.SQL); err != nil {
		return query.Result{}, err
	}
	if e.DB == nil {
		return query.Result{}, query.ConnectivityError("database is not configured", nil)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	return Run(ctx, e.DB, request)
}

// Ping reports whether the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if e.DB == nil {
		return fmt.Errorf("database is not configured")
	}
	return e.DB.PingContext(ctx)
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Run executes request.SQL on db and maps every row into column order. The
// caller is responsible for the read-only check.
func Run(ctx context.Context, db Queryer, request query.Request) (query.Result, error) {
	start := time.Now()
	sqlText := StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, query.Rejected("sql is required")
	}
	if request.RowLimit > 0 {
		// The newline keeps a trailing line comment from swallowing the wrapper.
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, classify(ctx, "execute query", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, classify(ctx, "query columns", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, classify(ctx, "scan row", err)
		}
		resultRows = append(resultRows, NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, classify(ctx, "iterate rows", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// classify separates "the database said no" from "the database is gone".
func classify(ctx context.Context, message string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return query.ExecutionError(message, err)
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		ctx.Err() != nil:
		return query.ConnectivityError(message, err)
	}
	return query.ExecutionError(message, err)
}

// NormalizeValues turns driver byte slices into strings so rows serialize
// as text.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
