// Package channel provides the byte-oriented transport abstraction used by
// both halves of edgerpc, modeled on appilon-jrpc2/channel's Channel
// interface: a Channel sends and receives whole framed messages and can be
// closed. The concrete implementation here is WebSocket (bidirectional,
// gorilla/websocket-backed); the client package's request/response fallback
// transport is a single HTTP round trip per call and does not fit this
// streaming shape, so it is implemented directly against net/http instead
// of forced through this interface.
package channel

import "errors"

// A Sender transmits a single framed message.
type Sender interface {
	Send(msg []byte) error
}

// A Receiver reads a single framed message, blocking until one arrives.
type Receiver interface {
	Recv() ([]byte, error)
}

// A Channel is a bidirectional or unidirectional framed message transport.
type Channel interface {
	Sender
	Receiver
	Close() error
}

// ErrClosed is returned by Recv/Send once the channel has been closed.
var ErrClosed = errors.New("channel: closed")

// IsErrClosing reports whether err represents an ordinary closed-channel
// condition rather than a noteworthy transport failure.
func IsErrClosing(err error) bool {
	return errors.Is(err, ErrClosed)
}
