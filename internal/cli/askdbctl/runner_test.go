package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"answered","sql":"SELECT 1","summary":"One."}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"ask", "how", "many", "orders?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotContentType != "application/json" {
		t.Fatalf("headers api_key=%q content_type=%q", gotAPIKey, gotContentType)
	}
	if gotBody["question"] != "how many orders?" {
		t.Fatalf("body = %#v", gotBody)
	}
	if !strings.Contains(stdout.String(), `"summary": "One."`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunAskTextFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"answered","sql":"SELECT name FROM t","columns":["name"],"rows":[["Ada"]],"summary":"Ada is the only one."}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "-f", "text", "who?"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	out := stdout.String()
	for _, want := range []string{"Ada is the only one.", "SQL:\nSELECT name FROM t", "name\nAda"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunAskTextFormatPrintsRejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"SQL_NOT_ALLOWED","message":"only read-only","context":{"answer":{"kind":"rejected","sql":"DELETE FROM t","message":"Only read-only queries are allowed."}}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "--format", "text", "drop it"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Only read-only queries are allowed.") || !strings.Contains(stdout.String(), "DELETE FROM t") {
		t.Fatalf("stdout = %s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "http 400") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunSimpleCommands(t *testing.T) {
	tests := []struct {
		args       []string
		wantMethod string
		wantPath   string
		wantQuery  string
	}{
		{args: []string{"schema"}, wantMethod: http.MethodGet, wantPath: "/v1/schema"},
		{args: []string{"memory"}, wantMethod: http.MethodGet, wantPath: "/v1/memory", wantQuery: "limit=20"},
		{args: []string{"memory", "-l", "5"}, wantMethod: http.MethodGet, wantPath: "/v1/memory", wantQuery: "limit=5"},
		{args: []string{"archive"}, wantMethod: http.MethodPost, wantPath: "/v1/memory/archive"},
		{args: []string{"archives"}, wantMethod: http.MethodGet, wantPath: "/v1/memory/archives"},
		{args: []string{"translate", "top", "customers"}, wantMethod: http.MethodPost, wantPath: "/v1/translate"},
		{args: []string{"query", "SELECT 1"}, wantMethod: http.MethodPost, wantPath: "/v1/query"},
		{args: []string{"health"}, wantMethod: http.MethodGet, wantPath: "/v1/health"},
		{args: []string{"ready"}, wantMethod: http.MethodGet, wantPath: "/v1/ready"},
	}
	for _, tc := range tests {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			var gotMethod, gotPath, gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			defer srv.Close()

			code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
			if code != 0 {
				t.Fatalf("exit code = %d", code)
			}
			if gotMethod != tc.wantMethod || gotPath != tc.wantPath || gotQuery != tc.wantQuery {
				t.Fatalf("request = %s %s?%s", gotMethod, gotPath, gotQuery)
			}
		})
	}
}

func TestRunQuerySendsRowLimit(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"columns":["n"],"rows":[[1]]}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"--base-url", srv.URL, "query", "--row-limit", "7", "SELECT 1 AS n"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotBody["sql"] != "SELECT 1 AS n" || gotBody["row_limit"] != float64(7) {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestRunReturnsErrorCodeOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "health"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "http 500") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"unknown-cmd"},
		{"ask"},
		{"query"},
		{"schema", "extra"},
		{"memory", "--limit", "0"},
		{"ask", "--format", "yaml", "q"},
		{"--no-such-flag", "health"},
	}
	for _, args := range tests {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("Run(%q) exit code = %d, want 2 (stderr=%s)", args, code, stderr.String())
		}
	}
}

func TestRunAskStream(t *testing.T) {
	var gotAPIKey string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask/ws" {
			http.NotFound(w, r)
			return
		}
		gotAPIKey = r.Header.Get("X-API-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		var req map[string]string
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "stage", "stage": "synthesizing"})
		_ = conn.WriteJSON(map[string]any{"type": "stage", "stage": "executing"})
		_ = conn.WriteJSON(map[string]any{"type": "answer", "answer": map[string]any{
			"kind": "answered", "question": req["question"], "summary": "Forty two.",
		}})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--api-key", "k1", "ask", "--stream", "-f", "text", "how", "many?"}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotAPIKey != "k1" {
		t.Fatalf("X-API-Key = %q", gotAPIKey)
	}
	if !strings.Contains(stderr.String(), "synthesizing") || !strings.Contains(stderr.String(), "executing") {
		t.Fatalf("stderr = %s", stderr.String())
	}
	if !strings.Contains(stdout.String(), "Forty two.") {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunAskStreamErrorFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteJSON(map[string]any{"type": "error", "error_code": "QUESTION_REQUIRED", "message": "question is required"})
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "--stream", "x"}, Options{Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "QUESTION_REQUIRED") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080/v1/ask/ws":     "ws://localhost:8080/v1/ask/ws",
		"https://askdb.example.com/v1/ask/ws": "wss://askdb.example.com/v1/ask/ws",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Fatalf("websocketURL(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := websocketURL("ftp://x"); err == nil {
		t.Fatal("websocketURL(ftp) expected error")
	}
}
