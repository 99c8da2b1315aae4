// Package nl2sql turns natural-language questions into SQL against a
// described schema.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
)

// NotPossible is the reply the model gives when the schema cannot answer
// the question.
const NotPossible = "QUERY_NOT_POSSIBLE"

var ErrGeneration = errors.New("sql generation failed")

type Request struct {
	Question  string `json:"question"`
	SchemaDoc string `json:"schema_doc"`
	// Dialect is one of postgres, duckdb, sqlite. Empty means generic ANSI SQL.
	Dialect string `json:"dialect"`
}

type Result struct {
	SQL          string `json:"sql"`
	Unanswerable bool   `json:"unanswerable"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

// Translator is what the assistant needs from the synthesizer.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type Synthesizer struct {
	Generator llm.Generator
	Provider  string
	Model     string
}

func (s *Synthesizer) Translate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	if s.Generator == nil {
		return Result{}, fmt.Errorf("%w: no generator configured", ErrGeneration)
	}

	reply, err := s.Generator.Generate(ctx, systemPrompt(req.SchemaDoc, req.Dialect), "User Question: "+question)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	result := Result{Provider: s.Provider, Model: s.Model}
	sqlText := llm.StripCodeFences(reply)
	if sqlText == "" || sqlText == NotPossible {
		result.Unanswerable = true
		return result, nil
	}
	result.SQL = sqlText
	return result, nil
}

func systemPrompt(schemaDoc, dialect string) string {
	var b strings.Builder
	b.WriteString("You are an expert SQL analyst. Convert the user's question into a single ")
	b.WriteString(dialectName(dialect))
	b.WriteString(" query.\n\nDatabase schema:\n")
	b.WriteString(strings.TrimSpace(schemaDoc))
	b.WriteString("\n\nRules:\n")
	b.WriteString("1. Output ONLY the SQL query. No markdown, no explanation.\n")
	b.WriteString("2. Use the table and column names exactly as listed in the schema, qualified with the table name.\n")
	b.WriteString("3. Only read data: a single SELECT or WITH statement.\n")
	fmt.Fprintf(&b, "4. If the question cannot be answered from this schema, reply with exactly %s.\n", NotPossible)
	b.WriteString("5. For \"top N\" or \"most\" questions, ORDER BY the measure and use LIMIT.\n")
	b.WriteString("6. Use aggregate functions with GROUP BY when the question asks for totals, counts or averages.\n")
	b.WriteString("7. Match string literals against the Known Values listed in the schema when present.\n")
	if note := dialectNote(dialect); note != "" {
		b.WriteString("8. ")
		b.WriteString(note)
		b.WriteString("\n")
	}
	return b.String()
}

func dialectName(dialect string) string {
	switch dialect {
	case "postgres":
		return "PostgreSQL"
	case "duckdb", "lake":
		return "DuckDB"
	case "sqlite":
		return "SQLite"
	default:
		return "ANSI SQL"
	}
}

func dialectNote(dialect string) string {
	switch dialect {
	case "postgres":
		return "Identifiers are case sensitive when quoted; wrap mixed-case names in double quotes. Use ILIKE for case-insensitive matching."
	case "duckdb", "lake":
		return "DuckDB uses PostgreSQL-like syntax. Use ILIKE for case-insensitive matching and date_trunc for time buckets."
	case "sqlite":
		return "SQLite has no ILIKE; use LOWER(column) LIKE LOWER(pattern). Use strftime for date parts."
	default:
		return ""
	}
}
