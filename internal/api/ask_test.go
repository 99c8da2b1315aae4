package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/askdb/askdb/internal/assist"
	"github.com/askdb/askdb/internal/auth"
)

type fakeAssistant struct {
	mu        sync.Mutex
	answer    assist.Answer
	err       error
	stages    []assist.Stage
	questions []string
}

func (f *fakeAssistant) Ask(_ context.Context, question string, observe assist.Observer) (assist.Answer, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	if observe != nil {
		for _, stage := range f.stages {
			observe(stage)
		}
	}
	answer := f.answer
	answer.Question = question
	return answer, f.err
}

func (f *fakeAssistant) asked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...)
}

func TestAskEndpointReturnsAnswer(t *testing.T) {
	assistant := &fakeAssistant{answer: assist.Answer{
		ID:      "a-1",
		Kind:    assist.KindAnswered,
		SQL:     "SELECT 1",
		Columns: []string{"n"},
		Rows:    [][]any{{int64(1)}},
		Summary: "One.",
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Assistant: assistant})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"how many?"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "answered" || body["summary"] != "One." || body["question"] != "how many?" {
		t.Fatalf("body = %#v", body)
	}
	if got := assistant.asked(); len(got) != 1 {
		t.Fatalf("questions = %v", got)
	}
}

func TestAskEndpointStatusByKind(t *testing.T) {
	tests := []struct {
		kind   assist.Kind
		status int
		code   string
	}{
		{assist.KindRecalled, http.StatusOK, ""},
		{assist.KindUnanswerable, http.StatusOK, ""},
		{assist.KindRejected, http.StatusBadRequest, "SQL_NOT_ALLOWED"},
		{assist.KindFailed, http.StatusBadRequest, "QUERY_EXECUTION_FAILED"},
		{assist.KindUnavailable, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assistant := &fakeAssistant{answer: assist.Answer{ID: "a", Kind: tt.kind, Message: "msg"}}
			h := NewHandler(loadConfig(t, nil), Dependencies{Assistant: assistant})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			body := decodeBody(t, rr)
			if tt.code == "" {
				if body["kind"] != string(tt.kind) {
					t.Fatalf("body = %#v", body)
				}
				return
			}
			if body["error_code"] != tt.code || body["message"] != "msg" {
				t.Fatalf("body = %#v", body)
			}
			extra, _ := body["context"].(map[string]any)
			answer, _ := extra["answer"].(map[string]any)
			if answer["kind"] != string(tt.kind) {
				t.Fatalf("context.answer = %#v", extra)
			}
		})
	}
}

func TestAskEndpointValidatesBody(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Assistant: &fakeAssistant{}})
	tests := map[string]string{
		`{"question":`:           "INVALID_JSON",
		`{"question":"q","x":1}`: "INVALID_JSON",
		`{"question":"   "}`:     "QUESTION_REQUIRED",
		`{}`:                     "QUESTION_REQUIRED",
	}
	for payload, code := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(payload)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s status = %d", payload, rr.Code)
		}
		if body := decodeBody(t, rr); body["error_code"] != code {
			t.Fatalf("payload %s error_code = %v, want %s", payload, body["error_code"], code)
		}
	}
}

func TestAskEndpointNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("reader-key:reader,admin-key:admin")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Archiver:       &fakeArchiver{},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/memory/archive", nil)
	req.Header.Set("X-API-Key", "reader-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/memory/archive", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin status = %d body=%s", rr.Code, rr.Body.String())
	}
}
