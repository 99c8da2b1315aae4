// Package assist runs the question pipeline: memory check, SQL synthesis,
// read-only execution, summarization, optional chart advice and memory
// store.
package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/chart"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
)

type Kind string

const (
	KindAnswered     Kind = "answered"
	KindRecalled     Kind = "recalled"
	KindUnanswerable Kind = "unanswerable"
	KindRejected     Kind = "rejected"
	KindFailed       Kind = "failed"
	KindUnavailable  Kind = "unavailable"
)

type Stage string

const (
	StageMemoryCheck  Stage = "memory_check"
	StageSynthesizing Stage = "synthesizing"
	StageExecuting    Stage = "executing"
	StageSummarizing  Stage = "summarizing"
	StageCharting     Stage = "charting"
	StageStoring      Stage = "storing"
	StageDone         Stage = "done"
)

const (
	UnanswerableMessage = "I cannot answer this question based on the available database schema. Please rephrase your question."
	RejectedMessage     = "Only read-only SELECT queries are allowed. The generated statement was not executed."
)

const DefaultMaxResultRows = 100

var ErrEmptyQuestion = errors.New("question is required")

// Observer receives stage transitions in order. It is called synchronously.
type Observer func(stage Stage)

type Answer struct {
	ID              string            `json:"id"`
	Kind            Kind              `json:"kind"`
	Question        string            `json:"question"`
	SQL             string            `json:"sql,omitempty"`
	Columns         []string          `json:"columns,omitempty"`
	Rows            [][]any           `json:"rows,omitempty"`
	Records         []map[string]any  `json:"records,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Chart           *chart.Suggestion `json:"chart,omitempty"`
	FromMemory      bool              `json:"from_memory"`
	MatchedQuestion string            `json:"matched_question,omitempty"`
	Score           float64           `json:"score,omitempty"`
	Message         string            `json:"message,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
}

type Memory interface {
	FindSimilar(ctx context.Context, question string) (memory.CachedAnswer, bool)
	Append(ctx context.Context, in memory.Interaction) memory.Record
}

type SchemaSource interface {
	Doc(ctx context.Context) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, question string, columns []string, rows [][]any) (string, error)
}

type ChartAdvisor interface {
	Suggest(ctx context.Context, question, summary string, columns []string, rows [][]any) chart.Suggestion
}

type Config struct {
	// Dialect is passed to the translator: postgres, duckdb, sqlite or lake.
	Dialect string
	// RowLimit caps rows returned by the database. Zero means unlimited.
	RowLimit int
	// MaxResultRows caps rows kept in memory records.
	MaxResultRows int
}

type Assistant struct {
	Memory     Memory
	Schema     SchemaSource
	Translator nl2sql.Translator
	Engine     query.Engine
	Summarizer Summarizer
	// Charts is optional; nil skips the charting stage.
	Charts ChartAdvisor
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
	NewID  func() string
}

func (a *Assistant) Ask(ctx context.Context, question string, observe Observer) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if observe == nil {
		observe = func(Stage) {}
	}

	started := a.now()
	answer := a.run(ctx, question, observe)
	answer.DurationMS = a.now().Sub(started).Milliseconds()
	observe(StageDone)

	observability.ObserveQuestion(string(answer.Kind))
	a.logger().InfoContext(ctx, "question handled",
		slog.String("answer_id", answer.ID),
		slog.String("kind", string(answer.Kind)),
		slog.Bool("from_memory", answer.FromMemory),
		slog.Int64("duration_ms", answer.DurationMS),
	)
	return answer, nil
}

func (a *Assistant) run(ctx context.Context, question string, observe Observer) Answer {
	answer := Answer{ID: a.newID(), Question: question}

	done := a.enter(observe, StageMemoryCheck)
	cached, hit := a.Memory.FindSimilar(ctx, question)
	done()
	if hit {
		answer.Kind = KindRecalled
		answer.FromMemory = true
		answer.SQL = cached.SQL
		answer.Summary = cached.Summary
		answer.Records = cached.Results
		answer.MatchedQuestion = cached.Question
		answer.Score = cached.Score
		return answer
	}

	done = a.enter(observe, StageSynthesizing)
	doc, err := a.Schema.Doc(ctx)
	if err != nil {
		done()
		a.logger().ErrorContext(ctx, "schema description unavailable", slog.String("error", err.Error()))
		return unavailable(answer, "The database schema could not be loaded. Check the database connection and try again.")
	}
	translated, err := a.Translator.Translate(ctx, nl2sql.Request{Question: question, SchemaDoc: doc, Dialect: a.Config.Dialect})
	done()
	if err != nil {
		a.logger().ErrorContext(ctx, "sql synthesis failed", slog.String("error", err.Error()))
		return unavailable(answer, "The reasoning service is unavailable. Please try again later.")
	}
	if translated.Unanswerable {
		answer.Kind = KindUnanswerable
		answer.Message = UnanswerableMessage
		return answer
	}
	answer.SQL = translated.SQL

	done = a.enter(observe, StageExecuting)
	result, err := a.Engine.Execute(ctx, query.Request{SQL: translated.SQL, RowLimit: a.Config.RowLimit})
	done()
	if err != nil {
		return a.executionFailure(ctx, answer, err)
	}
	answer.Columns = result.Columns
	answer.Rows = result.Rows

	done = a.enter(observe, StageSummarizing)
	summary, err := a.Summarizer.Summarize(ctx, question, result.Columns, result.Rows)
	done()
	if err != nil {
		a.logger().ErrorContext(ctx, "summary failed", slog.String("error", err.Error()))
		return unavailable(answer, "The query ran but the reasoning service could not summarize the results. Please try again later.")
	}
	answer.Summary = summary

	if a.Charts != nil {
		done = a.enter(observe, StageCharting)
		suggestion := a.Charts.Suggest(ctx, question, summary, result.Columns, result.Rows)
		done()
		answer.Chart = &suggestion
	}

	done = a.enter(observe, StageStoring)
	a.Memory.Append(ctx, memory.Interaction{
		Question: question,
		SQL:      translated.SQL,
		Summary:  summary,
		Results:  result.Records(a.maxResultRows()),
	})
	done()

	answer.Kind = KindAnswered
	return answer
}

func (a *Assistant) executionFailure(ctx context.Context, answer Answer, err error) Answer {
	switch query.KindOf(err) {
	case query.KindRejected:
		a.logger().WarnContext(ctx, "generated sql rejected", slog.String("sql", answer.SQL))
		answer.Kind = KindRejected
		answer.Message = RejectedMessage
	case query.KindConnectivity:
		a.logger().ErrorContext(ctx, "database unavailable", slog.String("error", err.Error()))
		return unavailable(answer, "The database is unavailable. Please try again later.")
	default:
		a.logger().WarnContext(ctx, "query execution failed", slog.String("sql", answer.SQL), slog.String("error", err.Error()))
		answer.Kind = KindFailed
		answer.Message = "The generated query failed to run: " + err.Error()
	}
	return answer
}

func unavailable(answer Answer, message string) Answer {
	answer.Kind = KindUnavailable
	answer.Message = message
	return answer
}

func (a *Assistant) enter(observe Observer, stage Stage) func() {
	observe(stage)
	started := a.now()
	return func() {
		observability.ObserveStage(string(stage), a.now().Sub(started))
	}
}

// Ask may run concurrently; the accessors below never write to a.

func (a *Assistant) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

func (a *Assistant) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

func (a *Assistant) logger() *slog.Logger {
	return observability.OrDiscard(a.Logger)
}

func (a *Assistant) maxResultRows() int {
	if a.Config.MaxResultRows > 0 {
		return a.Config.MaxResultRows
	}
	return DefaultMaxResultRows
}
