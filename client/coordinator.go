package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/channel"
)

// DialFunc opens a fresh bidirectional channel to the server. The
// Coordinator calls it once on Connect and again on every reconnect
// attempt.
type DialFunc func(ctx context.Context) (channel.Channel, error)

// A Coordinator drives the client-side connection state machine of
// spec.md §4.7: correlates requests with responses independent of arrival
// order, reconnects with capped exponential backoff, queues in-flight
// calls while reconnecting, fans broadcast events out to subscribers, and
// falls back to a request/response transport when the bidirectional dial
// is unavailable. Grounded on 41north-jrpc2/client.go's Client (pending map,
// single reader goroutine, register-then-send discipline), generalized
// from "one transport, no reconnect" to this spec's five-state machine.
type Coordinator struct {
	dial DialFunc
	opts *Options
	log  func(string, ...interface{})
	subs *subscriptions
	http *httpTransport

	mu             sync.Mutex
	state          State
	ch             channel.Channel
	pending        map[string]*pendingEntry
	pendingBatches map[string]chan batchResult
	queue          [][]byte
	attempt        int
	counter        int64
	closedByCaller bool
	usingFallback  bool
	listeners      []Listener
}

// New returns a Coordinator that dials connections via dial.
func New(dial DialFunc, opts *Options) *Coordinator {
	c := &Coordinator{
		dial:           dial,
		opts:           opts,
		log:            opts.logger(),
		subs:           newSubscriptions(),
		pending:        make(map[string]*pendingEntry),
		pendingBatches: make(map[string]chan batchResult),
		state:          Disconnected,
	}
	if opts.fallbackEnabled() || opts.fallbackURL() != "" {
		c.http = newHTTPTransport(opts)
	}
	return c
}

// Listen registers fn to receive every subsequent state transition.
func (c *Coordinator) Listen(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State reports the coordinator's current connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the initial connection. If the dial fails and a fallback
// transport is configured, the coordinator switches to request/response
// mode and reports connected anyway (spec.md §4.7 "Transport fallback").
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	ch, err := c.dial(ctx)
	if err != nil {
		if c.opts.fallbackEnabled() {
			c.mu.Lock()
			c.usingFallback = true
			c.state = Connected
			c.mu.Unlock()
			c.notify(EventConnected, Connecting, Connected)
			return nil
		}
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.ch = ch
	c.state = Connected
	c.mu.Unlock()
	c.notify(EventConnected, Connecting, Connected)
	go c.readLoop(ch)
	return nil
}

// Close shuts the coordinator down, rejecting every pending request with
// ErrConnectionClosed and closing the underlying channel (if any). No
// reconnect is attempted after a caller-initiated close.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closedByCaller = true
	ch := c.ch
	c.ch = nil
	c.state = Closed
	pendings := c.drainPendingLocked()
	c.mu.Unlock()

	for _, p := range pendings {
		p.reject(ErrConnectionClosed)
	}
	if ch != nil {
		return ch.Close()
	}
	return nil
}

// Call issues a single request and blocks until its response returns, the
// connection closes, or ctx ends. A response carrying an application error
// is returned as (nil, *edgerpc.Error); a client-side transport failure is
// returned as (nil, *TransportError).
func (c *Coordinator) Call(ctx context.Context, method string, params interface{}) (*edgerpc.Response, error) {
	req, err := c.buildRequest(method, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.usingFallback {
		c.mu.Unlock()
		rsp, err := c.http.call(ctx, req)
		if err != nil {
			return nil, err
		}
		return pendingResult{rsp: rsp}.unpack()
	}
	if c.state == Closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p := newPending(req.ID)
	c.pending[req.ID] = p
	p.armTimeout(c.opts.requestTimeout(), func() { c.timeoutPending(req.ID) })
	c.enqueueOrSendLocked(req)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		p.stopTimer()
		return nil, ctx.Err()
	case r := <-p.ch:
		p.stopTimer()
		return r.unpack()
	}
}

// Subscribe registers fn against channel and returns a token Unsubscribe
// accepts to remove it.
func (c *Coordinator) Subscribe(channel string, fn SubscriptionHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.add(channel, fn)
}

// Unsubscribe removes the handler registered under token for channel.
func (c *Coordinator) Unsubscribe(channel string, token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs.remove(channel, token)
}

// buildRequest allocates a fresh id and marshals params (spec.md §3
// "Request-id allocation": wall-clock milliseconds suffixed with a
// monotonically increasing counter, avoiding collisions across reconnects
// within the same process without claiming global uniqueness).
func (c *Coordinator) buildRequest(method string, params interface{}) (*edgerpc.Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &edgerpc.Request{ID: c.nextID(), Method: method, Params: raw}, nil
}

func (c *Coordinator) nextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return fmt.Sprintf("%d.%d", time.Now().UnixMilli(), c.counter)
}

// enqueueOrSendLocked implements spec.md §4.7 "Send paths". The caller must
// hold c.mu.
func (c *Coordinator) enqueueOrSendLocked(req *edgerpc.Request) {
	body, err := edgerpc.EncodeRequest(req)
	if err != nil {
		if p, ok := c.pending[req.ID]; ok {
			delete(c.pending, req.ID)
			p.reject(err)
		}
		return
	}
	if c.state != Connected || c.ch == nil {
		c.queue = append(c.queue, body)
		return
	}
	if sendErr := c.ch.Send(body); sendErr != nil {
		c.queue = append(c.queue, body)
		go c.handleClose(sendErr)
	}
}

// dispatchBatch sends br and waits for its batch response, used by Pipeline
// and any direct caller wanting raw batch semantics.
func (c *Coordinator) dispatchBatch(ctx context.Context, br *edgerpc.BatchRequest) (*edgerpc.BatchResponse, error) {
	c.mu.Lock()
	if c.usingFallback {
		c.mu.Unlock()
		return c.http.callBatch(ctx, br)
	}
	if c.state == Closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	resultCh := make(chan batchResult, 1)
	c.pendingBatches[br.ID] = resultCh

	body, err := edgerpc.EncodeBatchRequest(br)
	if err != nil {
		delete(c.pendingBatches, br.ID)
		c.mu.Unlock()
		return nil, err
	}
	if c.state == Connected && c.ch != nil {
		if sendErr := c.ch.Send(body); sendErr != nil {
			c.queue = append(c.queue, body)
			go c.handleClose(sendErr)
		}
	} else {
		c.queue = append(c.queue, body)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingBatches, br.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.br, r.err
	}
}

func (c *Coordinator) timeoutPending(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		p.reject(ErrRequestTimeout)
	}
}

func (c *Coordinator) drainPendingLocked() []*pendingEntry {
	out := make([]*pendingEntry, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		out = append(out, p)
	}
	for id, ch := range c.pendingBatches {
		delete(c.pendingBatches, id)
		ch <- batchResult{err: ErrConnectionClosed}
	}
	return out
}

// readLoop pumps inbound frames from ch until it errors, handing each
// decoded message to handleMessage; inbound binary frames never reach here
// (channel.WebSocket.Recv already filters them, spec.md §4.7).
func (c *Coordinator) readLoop(ch channel.Channel) {
	for {
		msg, err := ch.Recv()
		if err != nil {
			c.handleClose(err)
			return
		}
		c.handleMessage(msg)
	}
}

func isBatchResponseEnvelope(msg []byte) bool {
	var probe map[string]json.RawMessage
	if json.Unmarshal(msg, &probe) != nil {
		return false
	}
	_, ok := probe["responses"]
	return ok
}

// handleMessage decodes msg as a single response, a batch response, or a
// broadcast envelope and routes it accordingly. Unparseable frames are
// dropped silently (spec.md §4.7 "unparseable frames are dropped").
func (c *Coordinator) handleMessage(msg []byte) {
	if isBatchResponseEnvelope(msg) {
		br, err := edgerpc.DecodeBatchResponse(msg)
		if err != nil {
			c.log("client: dropping unparseable batch response: %v", err)
			return
		}
		c.deliverBatch(br)
		return
	}
	rsp, err := edgerpc.DecodeResponse(msg)
	if err != nil {
		c.log("client: dropping unparseable frame: %v", err)
		return
	}
	c.deliver(rsp)
}

func (c *Coordinator) deliver(rsp *edgerpc.Response) {
	if rsp.IsBroadcast() {
		var ev edgerpc.BroadcastEvent
		if err := json.Unmarshal(rsp.Result, &ev); err == nil {
			c.subs.dispatch(ev.Channel, ev.Data)
		}
		return
	}
	id := rsp.IDString()
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.log("client: discarding response for unknown id %q", id)
		return
	}
	p.deliver(rsp)
}

func (c *Coordinator) deliverBatch(br *edgerpc.BatchResponse) {
	c.mu.Lock()
	resultCh, ok := c.pendingBatches[br.ID]
	if ok {
		delete(c.pendingBatches, br.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log("client: discarding batch response for unknown id %q", br.ID)
		return
	}
	resultCh <- batchResult{br: br}
}

// handleClose reacts to an unexpected close, detected either from a failed
// Recv or a failed Send. It is idempotent: only the first caller after a
// transition acts.
func (c *Coordinator) handleClose(_ error) {
	c.mu.Lock()
	if c.state == Closed || c.state == Reconnecting || c.closedByCaller {
		c.mu.Unlock()
		return
	}
	c.ch = nil

	if !c.opts.autoReconnect() {
		c.state = Closed
		pendings := c.drainPendingLocked()
		c.mu.Unlock()
		for _, p := range pendings {
			p.reject(ErrConnectionClosed)
		}
		c.notify(EventClosed, Connected, Closed)
		return
	}

	from := c.state
	c.state = Reconnecting
	c.attempt = 0
	c.mu.Unlock()
	c.notify(EventReconnectionStarted, from, Reconnecting)
	go c.reconnectLoop()
}

// reconnectLoop retries the dial with capped exponential backoff until it
// succeeds or the attempt budget is exhausted (spec.md §4.7 "Reconnect").
func (c *Coordinator) reconnectLoop() {
	for {
		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		maxAttempts := c.opts.maxReconnectAttempts()
		c.mu.Unlock()

		if maxAttempts > 0 && attempt > maxAttempts {
			c.giveUp()
			return
		}

		time.Sleep(c.opts.backoffDelay(attempt))

		c.mu.Lock()
		if c.closedByCaller {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ch, err := c.dial(context.Background())
		if err != nil {
			c.opts.metrics().Count("client.reconnect_failed", 1)
			continue
		}

		c.mu.Lock()
		c.ch = ch
		c.state = Connected
		c.attempt = 0
		queued := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, body := range queued {
			_ = ch.Send(body) // a failure here surfaces on the next Recv
		}
		c.opts.metrics().Count("client.reconnects", 1)
		c.notify(EventReconnected, Reconnecting, Connected)
		go c.readLoop(ch)
		return
	}
}

// giveUp transitions to disconnected after exhausting the reconnect budget,
// rejecting every pending request (spec.md §4.7 "After maxAttempts
// failures, reject all pending requests ... and transition to
// disconnected").
func (c *Coordinator) giveUp() {
	c.mu.Lock()
	c.state = Disconnected
	pendings := c.drainPendingLocked()
	c.mu.Unlock()
	for _, p := range pendings {
		p.reject(ErrConnectionClosed)
	}
	c.notify(EventClosed, Reconnecting, Disconnected)
}

func (c *Coordinator) notify(event Event, from, to State) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(event, from, to)
	}
}
