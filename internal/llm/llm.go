// Package llm talks to the reasoning service: a chat-style model that
// turns a system instruction and a user prompt into text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Generator is the single reasoning capability the assistant depends on.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

var ErrEmptyResponse = errors.New("reasoning service returned no content")

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

var fenceTagPattern = regexp.MustCompile(`^[A-Za-z0-9_+-]{1,15}$`)

// sqlLeadingKeywords can open a statement, so a fence line holding one of
// them is code rather than a language tag.
var sqlLeadingKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "FROM": true, "WHERE": true, "VALUES": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "EXPLAIN": true, "SHOW": true,
}

func isFenceTag(line string) bool {
	return line == "" || (fenceTagPattern.MatchString(line) && !sqlLeadingKeywords[strings.ToUpper(line)])
}

// StripCodeFences removes a leading ``` or ```lang fence and a trailing
// fence from model output.
func StripCodeFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		if isFenceTag(strings.TrimSpace(trimmed[:newline])) {
			trimmed = trimmed[newline+1:]
		}
	} else {
		for _, tag := range []string{"sql", "json"} {
			if len(trimmed) >= len(tag) && strings.EqualFold(trimmed[:len(tag)], tag) {
				trimmed = trimmed[len(tag):]
				break
			}
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
