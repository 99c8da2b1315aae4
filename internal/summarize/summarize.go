// Package summarize turns query results into a short plain-language answer.
package summarize

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
)

const (
	DefaultSampleRows = 10
	NoDataMessage     = "Query executed but returned no data."
)

var ErrSummary = errors.New("summary generation failed")

const systemPrompt = `You are a helpful data analyst. Answer the user's question using the SQL results provided.

Rules:
1. Give a direct, conversational answer to the question.
2. Use markdown for emphasis or short lists when it helps readability.
3. Keep the answer under 100 words.
4. If the results are empty, say that no matching data was found.
5. Do not mention SQL, queries, or repeat the raw data verbatim.`

type Summarizer struct {
	Generator llm.Generator
	// SampleRows bounds how many result rows are shown to the model.
	SampleRows int
}

func (s *Summarizer) Summarize(ctx context.Context, question string, columns []string, rows [][]any) (string, error) {
	if len(rows) == 0 {
		return NoDataMessage, nil
	}
	if s.Generator == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrSummary)
	}

	sample, err := renderCSV(columns, rows, s.sampleRows())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummary, err)
	}
	user := fmt.Sprintf("USER QUESTION: %s\n\nSQL RESULTS (CSV format, %d of %d rows):\n%s",
		strings.TrimSpace(question), min(len(rows), s.sampleRows()), len(rows), sample)

	reply, err := s.Generator.Generate(ctx, systemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummary, err)
	}
	summary := strings.TrimSpace(reply)
	if summary == "" {
		return "", fmt.Errorf("%w: %w", ErrSummary, llm.ErrEmptyResponse)
	}
	return summary, nil
}

func (s *Summarizer) sampleRows() int {
	if s.SampleRows > 0 {
		return s.SampleRows
	}
	return DefaultSampleRows
}

func renderCSV(columns []string, rows [][]any, limit int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for i, row := range rows {
		if i >= limit {
			break
		}
		for j := range record {
			record[j] = ""
			if j < len(row) && row[j] != nil {
				record[j] = fmt.Sprint(row[j])
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}
