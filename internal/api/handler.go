package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/assist"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, question string, observe assist.Observer) (assist.Answer, error)
}

type SchemaSource interface {
	Doc(ctx context.Context) (string, error)
}

type MemoryReader interface {
	Records() []memory.Record
}

type ArchiveRunner interface {
	Archive(ctx context.Context) (archive.Result, error)
	List(ctx context.Context) ([]storage.ObjectInfo, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Asker
	Schema            SchemaSource
	Translator        nl2sql.Translator
	Dialect           string
	QueryEngine       query.Engine
	RowLimit          int
	Memory            MemoryReader
	Archiver          ArchiveRunner
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"POST /v1/ask": func(w http.ResponseWriter, r *http.Request) {
			handleAsk(deps, w, r)
		},
		"GET /v1/ask/ws": func(w http.ResponseWriter, r *http.Request) {
			handleAskStream(deps, w, r)
		},
		"POST /v1/translate": func(w http.ResponseWriter, r *http.Request) {
			handleTranslate(deps, w, r)
		},
		"POST /v1/query": func(w http.ResponseWriter, r *http.Request) {
			handleQuery(deps, w, r)
		},
		"GET /v1/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"GET /v1/memory": func(w http.ResponseWriter, r *http.Request) {
			handleMemory(deps, w, r)
		},
		"GET /v1/memory/archives": func(w http.ResponseWriter, r *http.Request) {
			handleListArchives(deps, w, r)
		},
		"POST /v1/memory/archive": func(w http.ResponseWriter, r *http.Request) {
			handleArchive(deps, w, r)
		},
	}

	protected := http.NewServeMux()
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabase(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("database is not configured")
		}
		return ping(ctx)
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
