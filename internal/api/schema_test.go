package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/nl2sql"
)

type fakeTranslator struct {
	result   nl2sql.Result
	err      error
	requests []nl2sql.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func TestSchemaEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: staticSchema("Table: sales\nColumns:\n  - amount (INTEGER)")})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); !strings.HasPrefix(body["schema"].(string), "Table: sales") {
		t.Fatalf("body = %#v", body)
	}

	h = NewHandler(loadConfig(t, nil), Dependencies{Schema: failingSchema{}})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("failing schema status = %d", rr.Code)
	}
}

func TestTranslateEndpointReturnsSQL(t *testing.T) {
	translator := &fakeTranslator{result: nl2sql.Result{SQL: "SELECT 1", Provider: "fake", Model: "fake-model"}}
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Translator: translator,
		Schema:     staticSchema("Table: sales"),
		Dialect:    "duckdb",
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/translate", strings.NewReader(`{"question":"count sales"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["sql"] != "SELECT 1" || body["provider"] != "fake" || body["unanswerable"] != false {
		t.Fatalf("body = %#v", body)
	}
	if len(translator.requests) != 1 {
		t.Fatalf("requests = %d", len(translator.requests))
	}
	got := translator.requests[0]
	if got.Question != "count sales" || got.SchemaDoc != "Table: sales" || got.Dialect != "duckdb" {
		t.Fatalf("request = %+v", got)
	}
}

func TestTranslateEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Dependencies
		body   string
		status int
	}{
		{"no translator", Dependencies{Schema: staticSchema("doc")}, `{"question":"q"}`, http.StatusNotImplemented},
		{"no schema", Dependencies{Translator: &fakeTranslator{}}, `{"question":"q"}`, http.StatusNotImplemented},
		{"blank question", Dependencies{Translator: &fakeTranslator{}, Schema: staticSchema("doc")}, `{"question":""}`, http.StatusBadRequest},
		{"unknown field", Dependencies{Translator: &fakeTranslator{}, Schema: staticSchema("doc")}, `{"prompt":"q"}`, http.StatusBadRequest},
		{"upstream", Dependencies{Translator: &fakeTranslator{err: errors.New("boom")}, Schema: staticSchema("doc")}, `{"question":"q"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, nil), tt.deps)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/translate", strings.NewReader(tt.body)))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}
