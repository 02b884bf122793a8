package hibernate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgerpc/edgerpc"
)

// DispatchFunc processes one inbound message for conn and returns the bytes
// to send back (nil if nothing should be sent, e.g. a pure notification).
// The Manager calls this only while conn is (or is about to become) open —
// never while hibernating (spec.md §3 "Connection state" invariant).
type DispatchFunc func(ctx context.Context, conn *Connection, msg []byte) []byte

// A Manager tracks every live Connection and drives its state machine.
type Manager struct {
	opts     *Options
	log      func(string, ...interface{})
	dispatch DispatchFunc

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager returns a Manager that calls dispatch to process inbound
// messages.
func NewManager(dispatch DispatchFunc, opts *Options) *Manager {
	return &Manager{
		opts:     opts,
		log:      opts.logger(),
		dispatch: dispatch,
		conns:    make(map[string]*Connection),
	}
}

// Open creates a new connection bound to socket, in the open state, and
// starts its idle timer. This is the socket-upgrade transition of
// spec.md §4.4's state table.
func (m *Manager) Open(id string, socket Socket) *Connection {
	c := &Connection{
		id:            id,
		socket:        socket,
		status:        Open,
		connectedAt:   time.Now(),
		lastMessageAt: time.Now(),
		subs:          make(map[string]struct{}),
		data:          make(map[string]interface{}),
		queueBound:    m.opts.queueBound(),
	}
	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()
	m.armIdleTimer(c)
	return c
}

// Wake handles an inbound message arriving for a connection the host
// reports as hibernating (or previously unknown to this process — spec.md
// §9's "wake as reconcile" design note). If the connection already exists
// in this Manager's memory (the common case: the process was not actually
// evicted, only the idle timer fired), it transitions that record from
// hibernating to open. Otherwise it is rebuilt from attachmentBytes with a
// fresh, empty queue, since a queue never survives an actual process
// eviction (spec.md §4.4 "Attachment serialization").
func (m *Manager) Wake(id string, socket Socket, attachmentBytes []byte) (*Connection, error) {
	m.mu.Lock()
	c, known := m.conns[id]
	m.mu.Unlock()

	if known {
		return c, m.reopen(c, socket)
	}

	var att attachment
	if len(attachmentBytes) > 0 {
		if err := json.Unmarshal(attachmentBytes, &att); err != nil {
			return nil, fmt.Errorf("hibernate: invalid attachment: %w", err)
		}
	} else {
		att = attachment{ID: id}
	}

	c = &Connection{
		id:            att.ID,
		socket:        socket,
		status:        Open,
		connectedAt:   time.Now(),
		lastMessageAt: time.Now(),
		subs:          make(map[string]struct{}),
		data:          att.Data,
		queueBound:    m.opts.queueBound(),
	}
	if c.data == nil {
		c.data = make(map[string]interface{})
	}
	for _, s := range att.Subs {
		c.subs[s] = struct{}{}
	}

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()

	m.armIdleTimer(c)
	return c, nil
}

// reopen transitions an existing connection from hibernating back to open,
// clearing the max-hibernation timer and replaying queued events in FIFO
// order before the triggering message is dispatched (spec.md §4.4, §8
// "Hibernation round-trip").
func (m *Manager) reopen(c *Connection, socket Socket) error {
	c.mu.Lock()
	if c.status == Closed {
		c.mu.Unlock()
		return fmt.Errorf("hibernate: connection %q is closed", c.id)
	}
	c.socket = socket
	c.status = Open
	if c.maxHibTime != nil {
		c.maxHibTime.Stop()
		c.maxHibTime = nil
	}
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, ev := range queued {
		if payload, err := encodeBroadcast(ev); err == nil {
			_ = socket.Send(payload)
		}
	}
	m.opts.metrics().Count("hibernate.wakes", 1)
	m.armIdleTimer(c)
	return nil
}

// HandleMessage processes one inbound message on conn: records the message
// time, resets the idle timer once, then dispatches. Any state other than Closed is
// valid to call this from (Open directly, or Hibernating via Wake having
// already transitioned the connection to Open first).
func (m *Manager) HandleMessage(ctx context.Context, conn *Connection, msg []byte) []byte {
	conn.mu.Lock()
	conn.lastMessageAt = time.Now()
	conn.mu.Unlock()
	m.armIdleTimer(conn)
	return m.dispatch(ctx, conn, msg)
}

// armIdleTimer (re)starts the idle-to-hibernate timer for conn. A zero
// IdleTimeout disables hibernation entirely.
func (m *Manager) armIdleTimer(conn *Connection) {
	timeout := m.opts.idleTimeout()
	if timeout <= 0 {
		return
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.status != Open {
		return
	}
	if conn.idleTimer != nil {
		conn.idleTimer.Stop()
	}
	conn.idleTimer = time.AfterFunc(timeout, func() { m.hibernate(conn) })
}

// hibernate transitions conn from open to hibernating: it serializes the
// attachment onto the socket and starts the max-hibernation timer
// (spec.md §4.4).
func (m *Manager) hibernate(conn *Connection) {
	conn.mu.Lock()
	if conn.status != Open {
		conn.mu.Unlock()
		return
	}
	conn.status = Hibernating
	conn.hibernateStart = time.Now()
	att := conn.snapshot()
	bits, err := json.Marshal(att)
	socket := conn.socket
	maxHib := m.opts.maxHibernation()
	if err == nil && socket != nil {
		socket.SerializeAttachment(bits)
	}
	if maxHib > 0 {
		conn.maxHibTime = time.AfterFunc(maxHib, func() { m.expireHibernation(conn) })
	}
	conn.mu.Unlock()
	m.opts.metrics().Count("hibernate.transitions", 1)
	m.log("connection %q hibernating", conn.id)
}

// expireHibernation force-closes a connection whose max-hibernation timer
// fired while still hibernating.
func (m *Manager) expireHibernation(conn *Connection) {
	conn.mu.Lock()
	if conn.status != Hibernating {
		conn.mu.Unlock()
		return
	}
	conn.status = Closed
	socket := conn.socket
	conn.mu.Unlock()

	if socket != nil {
		_ = socket.Close("max hibernation lifetime exceeded")
	}
	m.mu.Lock()
	delete(m.conns, conn.id)
	m.mu.Unlock()
	m.opts.metrics().Count("hibernate.expired", 1)
	m.log("connection %q closed: max hibernation exceeded", conn.id)
}

// Close transitions conn to closed, cancelling its timers and dropping it
// from the manager.
func (m *Manager) Close(conn *Connection) {
	conn.mu.Lock()
	if conn.status == Closed {
		conn.mu.Unlock()
		return
	}
	conn.status = Closed
	if conn.idleTimer != nil {
		conn.idleTimer.Stop()
	}
	if conn.maxHibTime != nil {
		conn.maxHibTime.Stop()
	}
	conn.mu.Unlock()

	m.mu.Lock()
	delete(m.conns, conn.id)
	m.mu.Unlock()
}

// Get returns the connection registered under id, if any.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// Len reports the number of connections currently tracked (of any status).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Emit fans a broadcast event on channel out to every tracked connection
// subscribed to it for which filter returns true (a nil filter matches
// everything). Open connections receive the event immediately; hibernating
// connections have it appended to their bounded replay queue, oldest
// dropped first on overflow; closed connections are skipped (spec.md §4.6
// "Broadcast delivery").
func (m *Manager) Emit(channel string, data json.RawMessage, filter func(*Connection) bool) {
	m.mu.Lock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	ev := queuedEvent{Channel: channel, Data: data}
	for _, c := range targets {
		if !c.Subscribed(channel) {
			continue
		}
		if filter != nil && !filter(c) {
			continue
		}
		m.deliverOrQueue(c, ev)
	}
}

// deliverOrQueue sends ev directly if c is open, otherwise enqueues it
// (dropping the oldest queued event once c.queueBound is reached). Closed
// connections are silently skipped.
func (m *Manager) deliverOrQueue(c *Connection, ev queuedEvent) {
	c.mu.Lock()
	switch c.status {
	case Closed:
		c.mu.Unlock()
		return
	case Hibernating:
		c.queue = append(c.queue, ev)
		if over := len(c.queue) - c.queueBound; over > 0 {
			c.queue = c.queue[over:]
		}
		c.mu.Unlock()
		return
	}
	socket := c.socket
	c.mu.Unlock()

	if socket == nil {
		return
	}
	if payload, err := encodeBroadcast(ev); err == nil {
		_ = socket.Send(payload)
	}
}

// encodeBroadcast wraps ev in the response-shaped envelope spec.md §4.4/§6
// define for unsolicited events: empty id, result carrying {channel, data}.
func encodeBroadcast(ev queuedEvent) ([]byte, error) {
	rsp, err := edgerpc.NewBroadcast(ev.Channel, ev.Data)
	if err != nil {
		return nil, err
	}
	return edgerpc.EncodeResponse(rsp)
}
