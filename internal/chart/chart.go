// Package chart asks the reasoning service which chart best presents a
// result set and validates the suggestion against the actual columns.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
)

type Type string

const (
	TypeNone    Type = "none"
	TypeBar     Type = "bar"
	TypeLine    Type = "line"
	TypePie     Type = "pie"
	TypeScatter Type = "scatter"
)

type Suggestion struct {
	Type Type   `json:"chart_type"`
	X    string `json:"x_axis,omitempty"`
	Y    string `json:"y_axis,omitempty"`
}

var None = Suggestion{Type: TypeNone}

const systemPrompt = `You are a data visualization assistant. Given a question, its answer and a sample of the result data, choose the single best chart.

Reply with JSON only, in this shape:
{"chart_type": "bar|line|pie|scatter|none", "x_axis": "column_name", "y_axis": "column_name"}

Use bar for comparisons and rankings, line for trends over time, pie for shares of a whole, scatter for relationships between two numeric columns, and none when a chart would not help. y_axis must be a numeric column.`

const sampleRows = 10

type Advisor struct {
	Generator llm.Generator
	Logger    *slog.Logger
}

// Suggest never fails: malformed or unusable model output yields None.
func (a *Advisor) Suggest(ctx context.Context, question, summary string, columns []string, rows [][]any) Suggestion {
	if a == nil || a.Generator == nil || len(columns) < 2 || len(rows) == 0 {
		return None
	}
	logger := observability.OrDiscard(a.Logger)

	sample, err := json.Marshal(records(columns, rows, sampleRows))
	if err != nil {
		logger.Warn("chart sample encode failed", slog.String("error", err.Error()))
		return None
	}
	user := fmt.Sprintf("Question: %s\nAnswer: %s\nColumns: %s\nData sample:\n%s",
		strings.TrimSpace(question), strings.TrimSpace(summary), strings.Join(columns, ", "), sample)

	reply, err := a.Generator.Generate(ctx, systemPrompt, user)
	if err != nil {
		logger.Warn("chart suggestion failed", slog.String("error", err.Error()))
		return None
	}
	suggestion, err := parse(reply)
	if err != nil {
		logger.Warn("chart suggestion malformed", slog.String("error", err.Error()))
		return None
	}
	if err := validate(suggestion, columns, rows); err != nil {
		logger.Warn("chart suggestion rejected",
			slog.String("chart_type", string(suggestion.Type)),
			slog.String("error", err.Error()),
		)
		return None
	}
	return suggestion
}

func parse(reply string) (Suggestion, error) {
	var s Suggestion
	if err := json.Unmarshal([]byte(llm.StripCodeFences(reply)), &s); err != nil {
		return None, fmt.Errorf("decode suggestion: %w", err)
	}
	s.Type = Type(strings.ToLower(strings.TrimSpace(string(s.Type))))
	s.X = strings.TrimSpace(s.X)
	s.Y = strings.TrimSpace(s.Y)
	if s.Type == "" {
		s.Type = TypeNone
	}
	return s, nil
}

func validate(s Suggestion, columns []string, rows [][]any) error {
	switch s.Type {
	case TypeNone:
		return nil
	case TypeBar, TypeLine, TypePie, TypeScatter:
	default:
		return fmt.Errorf("unknown chart type %q", s.Type)
	}
	if indexOf(columns, s.X) < 0 {
		return fmt.Errorf("x_axis %q is not a result column", s.X)
	}
	y := indexOf(columns, s.Y)
	if y < 0 {
		return fmt.Errorf("y_axis %q is not a result column", s.Y)
	}
	if !numericColumn(rows, y) {
		return fmt.Errorf("y_axis %q is not numeric", s.Y)
	}
	return nil
}

func indexOf(columns []string, name string) int {
	for i, column := range columns {
		if name != "" && column == name {
			return i
		}
	}
	return -1
}

// numericColumn reports whether every non-null value in the column is a
// number. Drivers that return NUMERIC as text are accepted when the text
// parses.
func numericColumn(rows [][]any, index int) bool {
	seen := false
	for _, row := range rows {
		if index >= len(row) || row[index] == nil {
			continue
		}
		if !isNumber(row[index]) {
			return false
		}
		seen = true
	}
	return seen
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil
	default:
		return false
	}
}

func records(columns []string, rows [][]any, limit int) []map[string]any {
	out := make([]map[string]any, 0, min(len(rows), limit))
	for i, row := range rows {
		if i >= limit {
			break
		}
		record := make(map[string]any, len(columns))
		for j, column := range columns {
			if j < len(row) {
				record[column] = row[j]
			}
		}
		out = append(out, record)
	}
	return out
}
