// Package code defines the JSON-RPC error code taxonomy used throughout
// edgerpc: the standard band inherited from JSON-RPC 2.0, and a custom band
// for transport- and application-level conditions specific to this
// framework.
package code

import (
	"context"
	"errors"
)

// A Code is a signed numeric JSON-RPC error code.
type Code int32

// Standard band, -32700..-32600.
const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	Internal       Code = -32603
)

// Custom band, -32099..-32001.
const (
	Unauthorized Code = -32001
	Forbidden    Code = -32002
	NotFound     Code = -32003
	Conflict     Code = -32004
	RateLimited  Code = -32005
	Timeout      Code = -32006

	// Cancelled is an extension slot in the custom band: it is never emitted
	// by the wire protocol of a conforming peer, but is used internally to
	// classify context cancellation before it is shaped into a response.
	Cancelled Code = -32007
)

// IsStandard reports whether c falls in the standard JSON-RPC band.
func (c Code) IsStandard() bool { return c <= -32600 && c >= -32700 }

// IsCustom reports whether c falls in the custom edgerpc band.
func (c Code) IsCustom() bool { return c <= -32001 && c >= -32099 }

// Valid reports whether c is a legal RPC error code under either band.
func (c Code) Valid() bool { return c.IsStandard() || c.IsCustom() }

// String renders a short mnemonic for known codes, or the bare integer.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "code(" + itoa(int32(c)) + ")"
}

var names = map[Code]string{
	ParseError:     "parse error",
	InvalidRequest: "invalid request",
	MethodNotFound: "method not found",
	InvalidParams:  "invalid params",
	Internal:       "internal",
	Unauthorized:   "unauthorized",
	Forbidden:      "forbidden",
	NotFound:       "not found",
	Conflict:       "conflict",
	RateLimited:    "rate limited",
	Timeout:        "timeout",
	Cancelled:      "cancelled",
}

func itoa(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ErrCoder is satisfied by errors that can report a machine-readable code,
// such as *edgerpc.Error.
type ErrCoder interface {
	ErrCode() Code
}

// Classify reports whether value is numerically a legal RPC error code, and
// returns it as a Code. This implements the classification rule from
// spec.md §4.1: a code must lie in the standard or custom band to be a valid
// RPC error.
func Classify(value float64) (Code, bool) {
	c := Code(int32(value))
	if float64(c) != value {
		return 0, false // not an integer
	}
	return c, c.Valid()
}

// FromError maps a Go error to the best-fitting Code. Errors implementing
// ErrCoder report their own code; context cancellation and deadline errors
// map to Cancelled/Timeout; anything else maps to Internal.
func FromError(err error) Code {
	if err == nil {
		return 0
	}
	var ec ErrCoder
	if errors.As(err, &ec) {
		return ec.ErrCode()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return Internal
	}
}
