package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/askdb/askdb/internal/llm"
)

type Recaller interface {
	// Recall looks for a prior answer to question among records (oldest
	// first). ok is false on a miss.
	Recall(ctx context.Context, question string, records []Record) (answer CachedAnswer, ok bool, err error)
}

// LocalRecaller matches on token-set Jaccard similarity. The best score at
// or above Threshold wins; ties go to the most recent record.
type LocalRecaller struct {
	Threshold float64
}

func (l LocalRecaller) Recall(_ context.Context, question string, records []Record) (CachedAnswer, bool, error) {
	tokens := Normalize(question)
	best := -1
	bestScore := -1.0
	for i := len(records) - 1; i >= 0; i-- {
		score := Similarity(tokens, records[i].QuestionTokens)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < l.Threshold {
		return CachedAnswer{}, false, nil
	}
	match := records[best]
	return CachedAnswer{
		Question: match.Question,
		SQL:      deref(match.SQLQuery),
		Summary:  deref(match.Summary),
		Results:  match.Results,
		Score:    bestScore,
		Source:   "local",
	}, true, nil
}

const contextRecallSystemPrompt = "You answer questions strictly from a log of previous database questions and answers. " +
	"If the log does not contain the answer, reply with exactly: None"

// ContextRecaller sends the raw interaction log to the reasoning service
// and lets it decide whether a prior answer covers the question.
type ContextRecaller struct {
	Path      string
	Generator llm.Generator
}

func (c ContextRecaller) Recall(ctx context.Context, question string, _ []Record) (CachedAnswer, bool, error) {
	if c.Generator == nil {
		return CachedAnswer{}, false, fmt.Errorf("reasoning service is not configured")
	}
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CachedAnswer{}, false, nil
		}
		return CachedAnswer{}, false, fmt.Errorf("read interaction log: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return CachedAnswer{}, false, nil
	}

	prompt := fmt.Sprintf("Interaction log (JSON):\n%s\n\nNew question: %s\n\n"+
		"If a previous answer in the log answers the new question, restate that answer. Otherwise reply None.",
		string(raw), strings.TrimSpace(question))
	reply, err := c.Generator.Generate(ctx, contextRecallSystemPrompt, prompt)
	if err != nil {
		return CachedAnswer{}, false, fmt.Errorf("context recall: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(strings.Trim(reply, ".`\"' "), "none") {
		return CachedAnswer{}, false, nil
	}
	return CachedAnswer{Summary: reply, Source: "remote"}, true, nil
}
