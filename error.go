package edgerpc

import (
	"encoding/json"
	"fmt"

	"github.com/edgerpc/edgerpc/code"
)

// Error is the concrete type of errors carried in a Response's error field,
// and of errors handlers and middleware may return to control the code sent
// back to the caller.
type Error struct {
	Code    code.Code       // the machine-readable error code
	Message string          // the human-readable error message
	Data    json.RawMessage // optional ancillary error data
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode implements code.ErrCoder so code.FromError can recover e.Code from
// a generic error value.
func (e *Error) ErrCode() code.Code { return e.Code }

// WithData returns a copy of e whose Data field is the JSON encoding of v.
// If v == nil or marshaling v fails, e is returned unmodified.
func (e *Error) WithData(v interface{}) *Error {
	if v == nil {
		return e
	}
	data, err := json.Marshal(v)
	if err != nil {
		return e
	}
	return &Error{Code: e.Code, Message: e.Message, Data: data}
}

// MarshalJSON implements json.Marshaler for Error values, per spec.md §3's
// {code, message, data?} error shape.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(jerror{C: int32(e.Code), M: e.Message, D: e.Data})
}

// UnmarshalJSON implements json.Unmarshaler for Error values.
func (e *Error) UnmarshalJSON(data []byte) error {
	var v jerror
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	e.Code = code.Code(v.C)
	e.Message = v.M
	e.Data = v.D
	return nil
}

// Errorf constructs an *Error with the given code and a formatted message.
func Errorf(c code.Code, msg string, args ...interface{}) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// Named errors for conditions spec.md enumerates by name rather than by
// ad-hoc message (§8 "Concrete scenarios", §6 error code table).
var (
	ErrParse          = &Error{Code: code.ParseError, Message: "parse error"}
	ErrInvalidRequest = &Error{Code: code.InvalidRequest, Message: "invalid request"}
	ErrEmptyBatch     = &Error{Code: code.InvalidRequest, Message: "batch requests must be non-empty"}
)

// MethodNotFound builds the error response.md §8 scenario 2 requires,
// preserving the attempted method name in the message.
func MethodNotFound(method string) *Error {
	return Errorf(code.MethodNotFound, "Method not found: %s", method)
}

// ParseErrorf builds a parse-error with a descriptive message, matching
// spec.md §8 scenario 1's "Parse error: invalid JSON" wording convention.
func ParseErrorf(msg string, args ...interface{}) *Error {
	return Errorf(code.ParseError, "Parse error: "+msg, args...)
}
