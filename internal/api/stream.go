package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askdb/askdb/internal/assist"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamIdleTimeout  = 120 * time.Second
	streamReadLimit    = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// Callers are authenticated by API key before the upgrade.
		return true
	},
}

type streamMessage struct {
	Type      string         `json:"type"`
	Stage     assist.Stage   `json:"stage,omitempty"`
	Answer    *assist.Answer `json:"answer,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// handleAskStream answers questions over a WebSocket. Each text frame
// {"question": "..."} produces stage frames followed by one answer frame.
// The connection stays open for further questions.
func handleAskStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	logger := observability.OrDiscard(deps.Logger)
	ctx := r.Context()
	send := func(msg streamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(msg)
	}

	conn.SetReadLimit(streamReadLimit)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(ctx, "ask stream closed", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req askRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if send(streamMessage{Type: "error", ErrorCode: "INVALID_JSON", Message: "invalid ask message"}) != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(req.Question) == "" {
			if send(streamMessage{Type: "error", ErrorCode: "QUESTION_REQUIRED", Message: "question is required"}) != nil {
				return
			}
			continue
		}

		var writeErr error
		answer, err := deps.Assistant.Ask(ctx, req.Question, func(stage assist.Stage) {
			if writeErr == nil {
				writeErr = send(streamMessage{Type: "stage", Stage: stage})
			}
		})
		if writeErr != nil {
			return
		}
		if err != nil {
			code := "ASK_FAILED"
			if errors.Is(err, assist.ErrEmptyQuestion) {
				code = "QUESTION_REQUIRED"
			}
			if send(streamMessage{Type: "error", ErrorCode: code, Message: err.Error()}) != nil {
				return
			}
			continue
		}
		if err := send(streamMessage{Type: "answer", Answer: &answer}); err != nil {
			return
		}
	}
}
