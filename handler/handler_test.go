package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgerpc/edgerpc"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestNewWithParamsAndResult(t *testing.T) {
	h := New(func(_ context.Context, p addParams) (int, error) {
		return p.A + p.B, nil
	})
	req := &edgerpc.Request{ID: "1", Method: "add", Params: json.RawMessage(`{"a":2,"b":3}`)}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.(int) != 5 {
		t.Errorf("got %v, want 5", out)
	}
}

func TestNewNoParams(t *testing.T) {
	called := false
	h := New(func(_ context.Context) error {
		called = true
		return nil
	})
	req := &edgerpc.Request{ID: "1", Method: "ping"}
	if _, err := h.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !called {
		t.Error("handler was not invoked")
	}
}

func TestNewRejectsUnexpectedParams(t *testing.T) {
	h := New(func(_ context.Context) error { return nil })
	req := &edgerpc.Request{ID: "1", Method: "ping", Params: json.RawMessage(`{"x":1}`)}
	if _, err := h.Handle(context.Background(), req); err == nil {
		t.Error("expected error for unexpected parameters")
	}
}

func TestNewPanicsOnBadSignature(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for bad handler signature")
		}
	}()
	New(func() {})
}
