package edgerpc

import "encoding/json"

// A Response carries the outcome of a Request with the same ID. Exactly one
// of Result or Err may be set; both absent represents a void return
// (spec.md §3's explicit accepted shape).
//
// ID is a pointer rather than a plain string because the wire format
// distinguishes three states: the request's own non-empty id (echoed
// back), an explicit empty string (the broadcast envelope's "no request
// correlates to this" marker, spec.md §6), and JSON null (a router-level
// failure caught before any id could be recovered, spec.md §7). A bare
// string field could not represent null and "" as distinct wire values.
type Response struct {
	ID     *string         `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
	Meta   *Meta           `json:"meta,omitempty"`
}

// IDString returns the response's id, or "" if it is null.
func (r *Response) IDString() string {
	if r.ID == nil {
		return ""
	}
	return *r.ID
}

// IsError reports whether r carries an application error.
func (r *Response) IsError() bool { return r.Err != nil }

// IsVoid reports whether r carries neither a result nor an error.
func (r *Response) IsVoid() bool { return r.Result == nil && r.Err == nil }

// UnmarshalResult decodes the response's result into v. If the response
// carries an error, UnmarshalResult returns that error instead.
func (r *Response) UnmarshalResult(v interface{}) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// WithDuration returns a copy of meta with DurationMS set to ms,
// preserving meta's other fields (the dispatch engine passes the request's
// meta through). A nil meta yields a fresh Meta carrying only the duration.
func WithDuration(meta *Meta, ms float64) *Meta {
	out := &Meta{}
	if meta != nil {
		*out = *meta
	}
	out.DurationMS = &ms
	return out
}

// NewResult builds a successful Response carrying v, encoded to JSON.
func NewResult(id string, v interface{}) (*Response, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Response{ID: &id, Result: raw}, nil
}

// NewError builds an error Response carrying a known request id.
func NewError(id string, err *Error) *Response {
	return &Response{ID: &id, Err: err}
}

// NewErrorUnknownID builds an error Response for a router-level failure
// caught before any request id could be recovered (a malformed batch
// envelope, unparseable JSON, and the like). Its id is wire-encoded as
// JSON null, per spec.md §7's "best-effort id (null when the id cannot be
// recovered)".
func NewErrorUnknownID(err *Error) *Response {
	return &Response{ID: nil, Err: err}
}

// BroadcastEvent is the payload shape carried by an unsolicited
// empty-id response envelope (spec.md §4.4 "Broadcast", §6 "Broadcast
// envelope").
type BroadcastEvent struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewBroadcast builds the response-shaped envelope used to deliver an event
// to a subscribed connection: empty id, result carrying {channel, data}.
func NewBroadcast(channel string, data interface{}) (*Response, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	ev := BroadcastEvent{Channel: channel, Data: raw}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	empty := ""
	return &Response{ID: &empty, Result: payload}, nil
}

// IsBroadcast reports whether r is an unsolicited broadcast envelope rather
// than a reply to a pending request (spec.md §9(c)): an explicit empty-string
// id, distinct from the null id of an unrecoverable router-level failure.
func (r *Response) IsBroadcast() bool { return r.ID != nil && *r.ID == "" && r.Err == nil }
