package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware rejects requests without a valid API key and stores the
// resolved Identity on the request context. Role checks are left to the
// handlers.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	logger = observability.OrDiscard(logger).With(slog.String("component", "auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, source := credentialsFrom(r)
			if key == "" {
				observability.ObserveAuthFailure("missing")
				reject(w, r, "missing API key")
				return
			}

			identity, ok := validator.Validate(r.Context(), key)
			if !ok {
				observability.ObserveAuthFailure("invalid")
				logger.WarnContext(r.Context(), "rejected API key",
					slog.String("path", r.URL.Path),
					slog.String("source", source),
				)
				reject(w, r, "invalid API key")
				return
			}

			logger.DebugContext(r.Context(), "authenticated",
				slog.String("key_id", identity.KeyID),
				slog.String("source", source),
			)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// credentialsFrom returns the presented key and where it came from:
// X-API-Key, a bearer token, or the api_key query parameter on a websocket
// upgrade (browsers cannot set headers there).
func credentialsFrom(r *http.Request) (key string, source string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "header"
	}
	if token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		return strings.TrimSpace(token), "bearer"
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("api_key")), "query"
	}
	return "", ""
}

func reject(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
