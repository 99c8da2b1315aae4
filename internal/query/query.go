package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Records converts rows into column-keyed mappings, keeping row order.
// When limit > 0 at most limit records are returned.
func (r Result) Records(limit int) []map[string]any {
	n := len(r.Rows)
	if limit > 0 && n > limit {
		n = limit
	}
	records := make([]map[string]any, 0, n)
	for _, row := range r.Rows[:n] {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type ErrorKind string

const (
	// KindRejected means the statement failed the read-only check and was
	// never sent to the database.
	KindRejected ErrorKind = "rejected"
	// KindExecution means the database refused or failed the statement.
	KindExecution ErrorKind = "execution"
	// KindConnectivity means the database could not be reached.
	KindConnectivity ErrorKind = "connectivity"
)

// Error is the only error type engines return from Execute.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Rejected(message string) *Error {
	return &Error{Kind: KindRejected, Message: message}
}

func ExecutionError(message string, err error) *Error {
	return &Error{Kind: KindExecution, Message: message, Err: err}
}

func ConnectivityError(message string, err error) *Error {
	return &Error{Kind: KindConnectivity, Message: message, Err: err}
}

// KindOf reports the kind of a query error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr.Kind
	}
	return ""
}
