package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/storage"
)

const defaultMemoryLimit = 20

func handleMemory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Memory == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MEMORY_NOT_CONFIGURED", "conversation memory is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultMemoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	records := deps.Memory.Records()
	total := len(records)
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func handleArchive(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "memory archive is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	result, err := deps.Archiver.Archive(r.Context())
	if err != nil {
		if errors.Is(err, archive.ErrEmptyMemory) {
			writeError(r.Context(), w, http.StatusConflict, "MEMORY_EMPTY", "conversation memory has no records to archive", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_FAILED", "failed to archive memory", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleListArchives(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "memory archive is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	objects, err := deps.Archiver.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_LIST_FAILED", "failed to list archives", true, map[string]any{"details": err.Error()})
		return
	}
	archives := make([]map[string]any, 0, len(objects))
	for _, object := range objects {
		entry := map[string]any{
			"key":           object.Key,
			"size_bytes":    object.Size,
			"last_modified": object.LastModified,
		}
		if count, err := strconv.ParseInt(object.Metadata[storage.MetaRecordCount], 10, 64); err == nil {
			entry["record_count"] = count
		}
		archives = append(archives, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
}
