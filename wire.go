package edgerpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/edgerpc/edgerpc/code"
)

// jerror is the wire shape of an Error value.
type jerror struct {
	C int32           `json:"code"`
	M string          `json:"message"`
	D json.RawMessage `json:"data,omitempty"`
}

// bytesOf accepts either a string or a []byte, per spec.md §4.1 ("Decoders
// accept either a UTF-8 string or a raw byte buffer"). Any other input type
// is a caller bug, not a protocol error, and panics like a type assertion
// would.
func bytesOf(input interface{}) []byte {
	switch v := input.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("edgerpc: decode input must be string or []byte, got %T", input))
	}
}

// checkRoot validates the coarse shape shared by every decode entry point:
// not empty/absent, not whitespace-only, valid JSON, and (when wantObject)
// a JSON object at the root.
func checkRoot(raw []byte, wantObject bool) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ParseErrorf("empty input")
	}
	if !wantObject {
		return nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		if trimmed[0] == '{' {
			return nil, ParseErrorf("invalid JSON: %v", err)
		}
		return nil, ErrInvalidRequest
	}
	return obj, nil
}

// decodeRequestObject decodes the fields of a single request object,
// distinguishing an absent "params"/"meta" key from an explicit JSON value
// (including null) at each, and validating id/method per spec.md §4.1.
func decodeRequestObject(obj map[string]json.RawMessage) (*Request, error) {
	req := &Request{}

	idRaw, hasID := obj["id"]
	if !hasID || json.Unmarshal(idRaw, &req.ID) != nil || req.ID == "" {
		return nil, Errorf(ErrInvalidRequest.Code, "request id must be a non-empty string")
	}

	methodRaw, hasMethod := obj["method"]
	if !hasMethod || json.Unmarshal(methodRaw, &req.Method) != nil {
		return nil, Errorf(ErrInvalidRequest.Code, "request method must be a string")
	}

	if p, ok := obj["params"]; ok {
		req.Params = p
	}

	if m, ok := obj["meta"]; ok && string(m) != "null" {
		var meta Meta
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "invalid meta: %v", err)
		}
		req.Meta = &meta
	}

	return req, nil
}

// decodeResponseObject decodes a single response object, rejecting a value
// that carries both result and error.
func decodeResponseObject(obj map[string]json.RawMessage) (*Response, error) {
	rsp := &Response{}

	idRaw, hasID := obj["id"]
	if hasID {
		if err := json.Unmarshal(idRaw, &rsp.ID); err != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "response id must be a string")
		}
	}

	resultRaw, hasResult := obj["result"]
	errRaw, hasError := obj["error"]

	if hasResult {
		rsp.Result = resultRaw // explicit null is a legal (if unusual) result value
	}

	if hasError {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(errRaw, &fields); err != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "invalid error object: %v", err)
		}
		var raw jerror
		codeRaw, hasCode := fields["code"]
		msgRaw, hasMsg := fields["message"]
		if !hasCode || json.Unmarshal(codeRaw, &raw.C) != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "error object must carry a numeric code")
		}
		if !hasMsg || json.Unmarshal(msgRaw, &raw.M) != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "error object must carry a string message")
		}
		raw.D = fields["data"]
		rsp.Err = &Error{Code: code.Code(raw.C), Message: raw.M, Data: raw.D}
	}

	if hasResult && hasError {
		return nil, Errorf(ErrInvalidRequest.Code, "response must not carry both result and error")
	}

	if m, ok := obj["meta"]; ok && string(m) != "null" {
		var meta Meta
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "invalid meta: %v", err)
		}
		rsp.Meta = &meta
	}

	return rsp, nil
}
