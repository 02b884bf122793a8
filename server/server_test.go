package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/code"
	"github.com/edgerpc/edgerpc/registry"
	"github.com/fortytw2/leaktest"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New()
}

func postJSON(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body: %v (body=%s)", err, rec.Body.String())
	}
	return v
}

func TestOptionsPreflight(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), nil)

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q, want it to contain POST", got)
	}
}

func TestContentTypeRejected(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"id":"x","method":"a"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != nil {
		t.Errorf("id = %v, want null", body["id"])
	}
}

func TestPayloadTooLarge(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), &Options{MaxPayloadSize: 8})

	rec := postJSON(t, srv, `{"id":"x","method":"abcdefghij"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestRateLimited(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), &Options{
		RateLimit: &RateLimitPolicy{Max: 1, Window: time.Minute},
	})

	first := postJSON(t, srv, `{"id":"x","method":"a.b.c"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first call status = %d, want 200", first.Code)
	}
	second := postJSON(t, srv, `{"id":"y","method":"a.b.c"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", second.Code)
	}
}

// TestParseErrorScenario matches spec.md §8 scenario 1: a malformed POST
// body yields 400 with a null id.
func TestParseErrorScenario(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), nil)

	rec := postJSON(t, srv, `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != nil {
		t.Errorf("id = %v, want null", body["id"])
	}
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing error object in %v", body)
	}
	if int(errObj["code"].(float64)) != int(code.ParseError) {
		t.Errorf("error code = %v, want %d", errObj["code"], code.ParseError)
	}
	if msg, _ := errObj["message"].(string); !strings.HasPrefix(msg, "Parse error: invalid JSON") {
		t.Errorf("message = %q, want prefix %q", msg, "Parse error: invalid JSON")
	}
}

// TestMethodNotFoundScenario matches spec.md §8 scenario 2.
func TestMethodNotFoundScenario(t *testing.T) {
	defer leaktest.Check(t)()
	srv := New(newTestRegistry(t), nil)

	rec := postJSON(t, srv, `{"id":"x","method":"a.b.c"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != "x" {
		t.Errorf("id = %v, want x", body["id"])
	}
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing error object in %v", body)
	}
	if int(errObj["code"].(float64)) != int(code.MethodNotFound) {
		t.Errorf("error code = %v, want %d", errObj["code"], code.MethodNotFound)
	}
	if errObj["message"] != "Method not found: a.b.c" {
		t.Errorf("message = %v, want %q", errObj["message"], "Method not found: a.b.c")
	}
}

// TestParallelBatchPartialFailure matches spec.md §8 scenario 3: three
// requests, the middle handler fails, all three responses come back in
// request order with success=false.
func TestParallelBatchPartialFailure(t *testing.T) {
	defer leaktest.Check(t)()
	reg := newTestRegistry(t)
	mustRegister(t, reg, "a.one", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return "ok1", nil
	})
	mustRegister(t, reg, "a.two", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return nil, edgerpc.Errorf(code.MethodNotFound, "missing")
	})
	mustRegister(t, reg, "a.three", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return "ok3", nil
	})
	srv := New(reg, nil)

	rec := postJSON(t, srv, `{"id":"b1","requests":[
		{"id":"1","method":"a.one"},
		{"id":"2","method":"a.two"},
		{"id":"3","method":"a.three"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	responses, ok := body["responses"].([]interface{})
	if !ok || len(responses) != 3 {
		t.Fatalf("responses = %v, want 3 entries", body["responses"])
	}
	r0 := responses[0].(map[string]interface{})
	if r0["result"] == nil {
		t.Errorf("responses[0].result missing")
	}
	r1 := responses[1].(map[string]interface{})
	errObj, ok := r1["error"].(map[string]interface{})
	if !ok || int(errObj["code"].(float64)) != int(code.MethodNotFound) {
		t.Errorf("responses[1].error = %v, want code %d", r1["error"], code.MethodNotFound)
	}
	r2 := responses[2].(map[string]interface{})
	if r2["result"] == nil {
		t.Errorf("responses[2].result missing")
	}
}

// TestAbortOnErrorBatch matches spec.md §8 scenario 4: the same batch with
// abortOnError stops after the failing member.
func TestAbortOnErrorBatch(t *testing.T) {
	defer leaktest.Check(t)()
	reg := newTestRegistry(t)
	mustRegister(t, reg, "a.one", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return "ok1", nil
	})
	mustRegister(t, reg, "a.two", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return nil, edgerpc.Errorf(code.MethodNotFound, "missing")
	})
	mustRegister(t, reg, "a.three", func(_ context.Context, _ *edgerpc.Request) (interface{}, error) {
		return "ok3", nil
	})
	srv := New(reg, nil)

	rec := postJSON(t, srv, `{"id":"b1","abortOnError":true,"requests":[
		{"id":"1","method":"a.one"},
		{"id":"2","method":"a.two"},
		{"id":"3","method":"a.three"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	responses, ok := body["responses"].([]interface{})
	if !ok || len(responses) != 2 {
		t.Fatalf("responses = %v, want 2 entries", body["responses"])
	}
	r1 := responses[1].(map[string]interface{})
	errObj, ok := r1["error"].(map[string]interface{})
	if !ok || int(errObj["code"].(float64)) != int(code.MethodNotFound) {
		t.Errorf("responses[1].error = %v, want code %d", r1["error"], code.MethodNotFound)
	}
}

func mustRegister(t *testing.T, reg *registry.Registry, name string, fn edgerpc.HandlerFunc) {
	t.Helper()
	if err := reg.Register(&registry.Descriptor{Name: name, Handler: fn}); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}
