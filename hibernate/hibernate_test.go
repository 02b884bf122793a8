package hibernate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// fakeSocket is an in-memory Socket double: it records sent frames and
// attachment bytes instead of touching a real network connection.
type fakeSocket struct {
	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	closeMsg   string
	attachment []byte
}

func (f *fakeSocket) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), msg...))
	return nil
}

func (f *fakeSocket) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeMsg = reason
	return nil
}

func (f *fakeSocket) SerializeAttachment(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachment = append([]byte(nil), data...)
}

func (f *fakeSocket) DeserializeAttachment() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachment
}

func (f *fakeSocket) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func echoDispatch(_ context.Context, _ *Connection, msg []byte) []byte {
	return msg
}

func TestOpenStartsOpenState(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)

	if conn.Status() != Open {
		t.Fatalf("status = %v, want Open", conn.Status())
	}
	mgr.Close(conn)
	if _, ok := mgr.Get("c1"); ok {
		t.Fatalf("connection still tracked after Close")
	}
}

func TestIdleTimeoutHibernates(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{IdleTimeout: 10 * time.Millisecond})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)

	deadline := time.Now().Add(500 * time.Millisecond)
	for conn.Status() != Hibernating && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Status() != Hibernating {
		t.Fatalf("connection never hibernated")
	}
	if len(sock.DeserializeAttachment()) == 0 {
		t.Fatalf("expected attachment to be serialized on hibernate")
	}
	mgr.Close(conn)
}

func TestMaxHibernationExpires(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{
		IdleTimeout:    5 * time.Millisecond,
		MaxHibernation: 20 * time.Millisecond,
	})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)

	deadline := time.Now().Add(1 * time.Second)
	for conn.Status() != Closed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Status() != Closed {
		t.Fatalf("connection never force-closed after max hibernation")
	}
	if !sock.closed {
		t.Fatalf("expected socket.Close to be called")
	}
	if _, ok := mgr.Get("c1"); ok {
		t.Fatalf("expired connection should be dropped from the manager")
	}
}

func TestWakeReconcilesKnownConnection(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{IdleTimeout: 10 * time.Millisecond})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)
	conn.Subscribe("orders")

	deadline := time.Now().Add(500 * time.Millisecond)
	for conn.Status() != Hibernating && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Status() != Hibernating {
		t.Fatalf("setup: connection never hibernated")
	}

	mgr.Emit("orders", json.RawMessage(`{"n":1}`), nil)

	newSock := &fakeSocket{}
	woken, err := mgr.Wake("c1", newSock, nil)
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if woken.Status() != Open {
		t.Fatalf("status after wake = %v, want Open", woken.Status())
	}
	if newSock.sentCount() != 1 {
		t.Fatalf("queued event was not replayed on wake, got %d sends", newSock.sentCount())
	}
	mgr.Close(woken)
}

func TestWakeRebuildsUnknownConnectionFromAttachment(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{})
	att := attachment{ID: "c2", Subs: []string{"alerts"}, Data: map[string]interface{}{"k": "v"}}
	bits, err := json.Marshal(att)
	if err != nil {
		t.Fatalf("marshal attachment: %v", err)
	}

	sock := &fakeSocket{}
	conn, err := mgr.Wake("c2", sock, bits)
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if conn.ID() != "c2" {
		t.Fatalf("ID = %q, want c2", conn.ID())
	}
	if !conn.Subscribed("alerts") {
		t.Fatalf("expected subscription to survive rebuild from attachment")
	}
	if v, ok := conn.Data("k"); !ok || v != "v" {
		t.Fatalf("Data(%q) = %v, %v; want v, true", "k", v, ok)
	}
	mgr.Close(conn)
}

func TestEmitSkipsClosedAndUnsubscribed(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{})
	sock1 := &fakeSocket{}
	c1 := mgr.Open("c1", sock1)
	c1.Subscribe("news")

	sock2 := &fakeSocket{}
	c2 := mgr.Open("c2", sock2)
	// c2 never subscribes.

	sock3 := &fakeSocket{}
	c3 := mgr.Open("c3", sock3)
	c3.Subscribe("news")
	mgr.Close(c3)

	mgr.Emit("news", json.RawMessage(`{}`), nil)

	if sock1.sentCount() != 1 {
		t.Fatalf("subscribed open connection did not receive broadcast")
	}
	if sock2.sentCount() != 0 {
		t.Fatalf("unsubscribed connection should not receive broadcast")
	}
	if sock3.sentCount() != 0 {
		t.Fatalf("closed connection should not receive broadcast")
	}
	mgr.Close(c1)
	mgr.Close(c2)
}

func TestEmitFilterExcludesConnection(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)
	conn.Subscribe("news")

	mgr.Emit("news", json.RawMessage(`{}`), func(c *Connection) bool {
		return c.ID() != "c1"
	})

	if sock.sentCount() != 0 {
		t.Fatalf("filter should have excluded c1, got %d sends", sock.sentCount())
	}
	mgr.Close(conn)
}

func TestQueueBoundDropsOldest(t *testing.T) {
	defer leaktest.Check(t)()

	mgr := NewManager(echoDispatch, &Options{IdleTimeout: 5 * time.Millisecond, QueueBound: 2})
	sock := &fakeSocket{}
	conn := mgr.Open("c1", sock)
	conn.Subscribe("feed")

	deadline := time.Now().Add(500 * time.Millisecond)
	for conn.Status() != Hibernating && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	mgr.Emit("feed", json.RawMessage(`1`), nil)
	mgr.Emit("feed", json.RawMessage(`2`), nil)
	mgr.Emit("feed", json.RawMessage(`3`), nil)

	conn.mu.Lock()
	n := len(conn.queue)
	first := conn.queue[0].Data
	conn.mu.Unlock()

	if n != 2 {
		t.Fatalf("queue length = %d, want 2", n)
	}
	if string(first) != "2" {
		t.Fatalf("oldest event was not dropped, queue head = %s", first)
	}
	mgr.Close(conn)
}
