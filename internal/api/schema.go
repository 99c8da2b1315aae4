package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/nl2sql"
)

type translateRequest struct {
	Question string `json:"question"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema description is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	doc, err := deps.Schema.Doc(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "failed to load schema description", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": doc})
}

// handleTranslate returns the SQL for a question without executing it.
func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema description is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	doc, err := deps.Schema.Doc(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "failed to load schema description", true, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Translator.Translate(r.Context(), nl2sql.Request{
		Question:  req.Question,
		SchemaDoc: doc,
		Dialect:   deps.Dialect,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate question", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sql":          result.SQL,
		"unanswerable": result.Unanswerable,
		"provider":     result.Provider,
		"model":        result.Model,
	})
}
