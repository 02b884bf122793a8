package edgerpc

import "encoding/json"

// A Request is a single RPC invocation: a caller-chosen id, a method name,
// optional parameters of arbitrary JSON shape, and optional metadata.
//
// Params distinguishes three states: nil (absent), json.RawMessage("null")
// (explicit null), and any other JSON value (object, array, or primitive).
// Callers that want to test for absence should use HasParams, which treats
// a nil Params as absent; an explicit null decodes to a non-nil
// json.RawMessage("null") and so counts as present.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Meta   *Meta           `json:"meta,omitempty"`

	// decodeErr records a per-member validation failure discovered while
	// decoding this request as part of a batch, so the batch decoder does
	// not have to abort the whole batch for one bad member (spec.md §3:
	// "each independently valid"). Dispatch converts it to an
	// invalid-request response for this member alone. Always nil for a
	// request decoded via DecodeRequest directly.
	decodeErr error
}

// DecodeError returns the validation failure recorded for this request when
// it was decoded as a batch member, or nil if it is well-formed.
func (r *Request) DecodeError() error { return r.decodeErr }

// Meta carries request metadata: timestamp, trace identifiers, an opaque
// authentication token, an arbitrary header map, and (populated by the
// dispatch engine after execution) a duration in milliseconds.
type Meta struct {
	Timestamp  int64             `json:"timestamp,omitempty"`
	TraceID    string            `json:"traceId,omitempty"`
	Token      string            `json:"token,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	DurationMS *float64          `json:"duration,omitempty"`
}

// HasParams reports whether the request carries a params value at all
// (including an explicit null), as opposed to omitting the field entirely.
func (r *Request) HasParams() bool { return r.Params != nil }

// IsParamsNull reports whether params was present and explicitly null.
func (r *Request) IsParamsNull() bool { return string(r.Params) == "null" }

// UnmarshalParams decodes the request's params into v. If params is absent
// or explicitly null, UnmarshalParams returns nil without modifying v.
func (r *Request) UnmarshalParams(v interface{}) error {
	if !r.HasParams() || r.IsParamsNull() {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}
