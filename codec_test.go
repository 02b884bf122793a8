package edgerpc

import (
	"encoding/json"
	"testing"

	"github.com/edgerpc/edgerpc/code"
	"github.com/google/go-cmp/cmp"
)

func TestDecodeRequestRoundTrip(t *testing.T) {
	req := &Request{ID: "x1", Method: "a.b.c", Params: json.RawMessage(`{"n":1}`)}
	enc, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRequest(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(req, got, cmp.AllowUnexported(Request{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRequestExplicitNullParams(t *testing.T) {
	got, err := DecodeRequest(`{"id":"1","method":"m","params":null}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.HasParams() || !got.IsParamsNull() {
		t.Errorf("expected explicit-null params, got %q", got.Params)
	}
}

func TestDecodeRequestAbsentParams(t *testing.T) {
	got, err := DecodeRequest(`{"id":"1","method":"m"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.HasParams() {
		t.Errorf("expected absent params, got %q", got.Params)
	}
}

func TestDecodeRequestValidation(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"whitespace only", "   \n\t"},
		{"malformed json", "{"},
		{"root not object", "[1,2,3]"},
		{"missing id", `{"method":"m"}`},
		{"id not string", `{"id":5,"method":"m"}`},
		{"empty id", `{"id":"","method":"m"}`},
		{"missing method", `{"id":"1"}`},
		{"method not string", `{"id":"1","method":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeRequest(tc.input); err == nil {
				t.Errorf("DecodeRequest(%q) succeeded, want error", tc.input)
			}
		})
	}
}

func TestDecodeResponseVoidAccepted(t *testing.T) {
	rsp, err := DecodeResponse(`{"id":"1"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rsp.IsVoid() {
		t.Errorf("expected void response, got %+v", rsp)
	}
}

func TestDecodeResponseBothResultAndErrorRejected(t *testing.T) {
	_, err := DecodeResponse(`{"id":"1","result":1,"error":{"code":-32603,"message":"x"}}`)
	if err == nil {
		t.Fatal("expected error for response with both result and error")
	}
}

func TestDecodeResponseErrorObjectValidation(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty error object", `{"id":"1","error":{}}`},
		{"missing code", `{"id":"1","error":{"message":"x"}}`},
		{"missing message", `{"id":"1","error":{"code":-32603}}`},
		{"data only", `{"id":"1","error":{"data":1}}`},
		{"code not numeric", `{"id":"1","error":{"code":"x","message":"x"}}`},
		{"message not string", `{"id":"1","error":{"code":-32603,"message":5}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeResponse(tc.input); err == nil {
				t.Errorf("DecodeResponse(%q) succeeded, want error", tc.input)
			}
		})
	}
}

func TestEncodeResponseBothResultAndErrorRejected(t *testing.T) {
	id := "1"
	rsp := &Response{ID: &id, Result: json.RawMessage("1"), Err: &Error{Code: code.Internal, Message: "x"}}
	if _, err := EncodeResponse(rsp); err == nil {
		t.Fatal("expected encode error for response with both result and error")
	}
}

func TestDecodeBatchRequestEmpty(t *testing.T) {
	if _, err := DecodeBatchRequest(`{"id":"b1","requests":[]}`); err == nil {
		t.Fatal("expected error for empty batch requests array")
	}
}

func TestDecodeBatchRequestMemberErrorIsolated(t *testing.T) {
	br, err := DecodeBatchRequest(`{"id":"b1","requests":[{"id":"1","method":"ok"},{"id":"","method":"bad"}]}`)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(br.Requests) != 2 {
		t.Fatalf("expected 2 members, got %d", len(br.Requests))
	}
	if br.Requests[0].DecodeError() != nil {
		t.Errorf("member 0 should be valid, got %v", br.Requests[0].DecodeError())
	}
	if br.Requests[1].DecodeError() == nil {
		t.Errorf("member 1 should carry a decode error (empty id)")
	}
}

func TestErrorMarshalRoundTrip(t *testing.T) {
	e := Errorf(code.NotFound, "missing %s", "widget").WithData(map[string]string{"id": "42"})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Error
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Code != e.Code || got.Message != e.Message {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestBroadcastEnvelope(t *testing.T) {
	rsp, err := NewBroadcast("room.1", map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("NewBroadcast: %v", err)
	}
	if !rsp.IsBroadcast() {
		t.Error("expected broadcast envelope")
	}
	if rsp.ID == nil || *rsp.ID != "" {
		t.Errorf("broadcast id = %v, want non-nil empty string", rsp.ID)
	}
}
