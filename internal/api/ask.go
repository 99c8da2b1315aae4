package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/assist"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
)

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), req.Question, nil)
	if err != nil {
		if errors.Is(err, assist.ErrEmptyQuestion) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "failed to answer question", true, map[string]any{"details": err.Error()})
		return
	}
	writeAnswer(w, r, answer)
}

// writeAnswer sends successful kinds as-is and failure kinds as the error
// envelope with the answer attached under context.answer.
func writeAnswer(w http.ResponseWriter, r *http.Request, answer assist.Answer) {
	failure, ok := answerFailure(answer.Kind)
	if !ok {
		writeJSON(w, http.StatusOK, answer)
		return
	}
	writeError(r.Context(), w, failure.status, failure.code, answer.Message, failure.retryable, map[string]any{"answer": answer})
}

type failureStatus struct {
	status    int
	code      string
	retryable bool
}

func answerFailure(kind assist.Kind) (failureStatus, bool) {
	switch kind {
	case assist.KindRejected:
		return failureStatus{status: http.StatusBadRequest, code: "SQL_NOT_ALLOWED"}, true
	case assist.KindFailed:
		return failureStatus{status: http.StatusBadRequest, code: "QUERY_EXECUTION_FAILED"}, true
	case assist.KindUnavailable:
		return failureStatus{status: http.StatusBadGateway, code: "UPSTREAM_UNAVAILABLE", retryable: true}, true
	default:
		return failureStatus{}, false
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	observability.ObserveAuthFailure("forbidden")
	return fmt.Errorf("missing required role %q", role)
}
