package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/llm"
)

func TestSummarizeEmptyResultSkipsModel(t *testing.T) {
	s := &Summarizer{Generator: llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		t.Fatal("generator should not be called for an empty result")
		return "", nil
	})}
	got, err := s.Summarize(context.Background(), "how many refunds", []string{"count"}, nil)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != NoDataMessage {
		t.Fatalf("Summarize() = %q", got)
	}
}

func TestSummarizeSendsCSVSample(t *testing.T) {
	var gotUser string
	s := &Summarizer{
		SampleRows: 2,
		Generator: llm.GeneratorFunc(func(_ context.Context, system, user string) (string, error) {
			if !strings.Contains(system, "under 100 words") {
				t.Fatalf("system prompt = %q", system)
			}
			gotUser = user
			return "  **Widget** sold the most.  ", nil
		}),
	}
	rows := [][]any{
		{"Widget", int64(120)},
		{"Gadget, Deluxe", int64(80)},
		{"Gizmo", nil},
	}
	got, err := s.Summarize(context.Background(), "top products", []string{"name", "sales"}, rows)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "**Widget** sold the most." {
		t.Fatalf("Summarize() = %q", got)
	}
	if !strings.Contains(gotUser, "USER QUESTION: top products") {
		t.Fatalf("user prompt = %q", gotUser)
	}
	if !strings.Contains(gotUser, "name,sales\nWidget,120\n\"Gadget, Deluxe\",80\n") {
		t.Fatalf("user prompt missing csv sample:\n%s", gotUser)
	}
	if strings.Contains(gotUser, "Gizmo") {
		t.Fatalf("user prompt exceeded sample size:\n%s", gotUser)
	}
	if !strings.Contains(gotUser, "2 of 3 rows") {
		t.Fatalf("user prompt = %q", gotUser)
	}
}

func TestSummarizeWrapsFailures(t *testing.T) {
	boom := errors.New("upstream down")
	s := &Summarizer{Generator: llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", boom
	})}
	_, err := s.Summarize(context.Background(), "q", []string{"a"}, [][]any{{1}})
	if !errors.Is(err, ErrSummary) || !errors.Is(err, boom) {
		t.Fatalf("Summarize() error = %v", err)
	}

	s.Generator = llm.GeneratorFunc(func(context.Context, string, string) (string, error) { return "   ", nil })
	_, err = s.Summarize(context.Background(), "q", []string{"a"}, [][]any{{1}})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("Summarize() error = %v, want ErrEmptyResponse", err)
	}
}
