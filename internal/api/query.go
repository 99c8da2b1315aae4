package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/query"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	Columns []string       `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Stats   map[string]any `json:"stats"`
}

// handleQuery runs caller-supplied read-only SQL, for checking or editing
// a generated statement.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !query.IsReadOnly(request.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, nil)
		return
	}
	rowLimit := request.RowLimit
	if rowLimit <= 0 || (deps.RowLimit > 0 && rowLimit > deps.RowLimit) {
		rowLimit = deps.RowLimit
	}

	result, err := deps.QueryEngine.Execute(r.Context(), query.Request{SQL: request.SQL, RowLimit: rowLimit})
	if err != nil {
		switch query.KindOf(err) {
		case query.KindRejected:
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", err.Error(), false, nil)
		case query.KindConnectivity:
			writeError(r.Context(), w, http.StatusBadGateway, "DATABASE_UNAVAILABLE", "database is unavailable", true, map[string]any{"details": err.Error()})
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Columns: result.Columns,
		Rows:    result.Rows,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(result.Rows),
		},
	})
}
