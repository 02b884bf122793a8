package client

import (
	"time"

	"github.com/edgerpc/edgerpc"
)

// TransportError reports a client-side transport failure — connection
// closed, per-request timeout, or a network error from the fallback
// transport. Per spec.md §7 "Propagation policy", these never carry an RPC
// error code, since they originated client-side rather than from the peer.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string { return "edgerpc: " + e.Reason }

// ErrConnectionClosed is delivered to every pending request when the
// connection closes without auto-reconnect, or after the reconnect attempt
// budget is exhausted (spec.md §3, §4.7).
var ErrConnectionClosed = &TransportError{Reason: "connection closed"}

// ErrRequestTimeout is delivered to a pending request whose per-request
// timer fires before a reply arrives.
var ErrRequestTimeout = &TransportError{Reason: "request timed out"}

// pendingResult is what a pendingEntry's channel carries: exactly one of a
// Response (success or application error, both shaped by the peer) or a
// transport-level error (never shaped, since it never reached the peer).
type pendingResult struct {
	rsp *edgerpc.Response
	err error
}

// batchResult is the batch-shaped equivalent of pendingResult, carried on a
// pending batch's result channel.
type batchResult struct {
	br  *edgerpc.BatchResponse
	err error
}

// pendingEntry is one outstanding request awaiting a reply, keyed by id in
// the Coordinator's pending map (spec.md §3 "Pending request (client
// side)"). Grounded on 41north-jrpc2/client.go's newPending/Response pair,
// generalized with an explicit per-entry timer rather than relying solely
// on the caller's context, since spec.md §4.7 requires a configurable
// per-request timeout independent of ctx.
type pendingEntry struct {
	id    string
	ch    chan pendingResult
	timer *time.Timer
}

func newPending(id string) *pendingEntry {
	return &pendingEntry{id: id, ch: make(chan pendingResult, 1)}
}

// armTimeout starts p's timeout timer, invoking onTimeout if it fires
// before the entry is completed or stopped first.
func (p *pendingEntry) armTimeout(timeout time.Duration, onTimeout func()) {
	if timeout <= 0 {
		return
	}
	p.timer = time.AfterFunc(timeout, onTimeout)
}

func (p *pendingEntry) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *pendingEntry) deliver(rsp *edgerpc.Response) { p.ch <- pendingResult{rsp: rsp} }
func (p *pendingEntry) reject(err error)              { p.ch <- pendingResult{err: err} }

// unpack converts a delivered pendingResult into the (*Response, error)
// shape Call returns to its caller. A response carrying an application
// error is returned as (nil, *edgerpc.Error) — concrete type, same as
// 41north-jrpc2's Call contract — distinct from the (nil, *TransportError)
// a client-side failure returns.
func (r pendingResult) unpack() (*edgerpc.Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.rsp.IsError() {
		return nil, r.rsp.Err
	}
	return r.rsp, nil
}
