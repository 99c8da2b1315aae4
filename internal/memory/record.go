package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one answered question as it appears in the interaction log.
type Record struct {
	Question       string           `json:"question"`
	QuestionTokens []string         `json:"question_tokens"`
	SQLQuery       *string          `json:"sql_query"`
	Summary        *string          `json:"summary"`
	Results        []map[string]any `json:"results"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Interaction is what a caller hands to Store.Append. Empty SQL or Summary
// are stored as null.
type Interaction struct {
	Question string
	SQL      string
	Summary  string
	Results  []map[string]any
}

// CachedAnswer is a recalled prior answer. Remote recall only guarantees
// Summary.
type CachedAnswer struct {
	Question string           `json:"question,omitempty"`
	SQL      string           `json:"sql,omitempty"`
	Summary  string           `json:"summary"`
	Results  []map[string]any `json:"results,omitempty"`
	Score    float64          `json:"score,omitempty"`
	Source   string           `json:"source"`
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// copyResults deep-copies rows through JSON so the store owns values that
// look exactly like what a reload from disk produces.
func copyResults(rows []map[string]any) ([]map[string]any, error) {
	if len(rows) == 0 {
		return []map[string]any{}, nil
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out []map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return out, nil
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func (r Record) clone() Record {
	out := r
	out.QuestionTokens = append([]string(nil), r.QuestionTokens...)
	out.SQLQuery = cloneString(r.SQLQuery)
	out.Summary = cloneString(r.Summary)
	results, err := copyResults(r.Results)
	if err != nil {
		// Results already went through the same encoding on the way in.
		results = []map[string]any{}
	}
	out.Results = results
	return out
}
