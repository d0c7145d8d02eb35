package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is an in-memory Conn that records everything sent to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []sentEvent
	fail   bool
	closed bool
}

type sentEvent struct {
	event   string
	payload any
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.events = append(c.events, sentEvent{event: event, payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) countEvent(event string) int {
	n := 0
	for _, e := range c.sent() {
		if e.event == event {
			n++
		}
	}
	return n
}

// fakePresence records presence updates for assertions.
type fakePresence struct {
	mu      sync.Mutex
	updates []presenceUpdate
}

type presenceUpdate struct {
	username string
	online   bool
}

func (p *fakePresence) SetUserPresence(ctx context.Context, username string, online bool, lastSeen time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, presenceUpdate{username: username, online: online})
	return nil
}

func (p *fakePresence) snapshot() []presenceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]presenceUpdate, len(p.updates))
	copy(out, p.updates)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegistryRegisterResolve(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	conn := newFakeConn("c1")

	r.Register("alice", conn)

	got, ok := r.Resolve("alice")
	if !ok {
		t.Fatal("expected alice to resolve")
	}
	if got.ID() != "c1" {
		t.Fatalf("expected c1, got %s", got.ID())
	}

	if _, ok := r.Resolve("bob"); ok {
		t.Fatal("bob should not resolve")
	}
}

func TestRegistrySupersede(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	old := newFakeConn("c1")
	fresh := newFakeConn("c2")

	r.Register("alice", old)
	r.Register("alice", fresh)

	got, ok := r.Resolve("alice")
	if !ok || got.ID() != "c2" {
		t.Fatalf("expected c2 to win, got %v", got)
	}

	// The superseded connection is not closed by the registry.
	if old.closed {
		t.Fatal("old connection should not be closed")
	}
}

func TestRegistryStaleUnregisterIsNoop(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	old := newFakeConn("c1")
	fresh := newFakeConn("c2")

	r.Register("alice", old)
	r.Register("alice", fresh)

	// The old session disconnects after being superseded.
	if removed := r.Unregister("alice", "c1"); removed {
		t.Fatal("stale unregister should be a no-op")
	}

	if _, ok := r.Resolve("alice"); !ok {
		t.Fatal("alice should still resolve after stale unregister")
	}

	if removed := r.Unregister("alice", "c2"); !removed {
		t.Fatal("matching unregister should remove the mapping")
	}
	if _, ok := r.Resolve("alice"); ok {
		t.Fatal("alice should not resolve after unregister")
	}
}

func TestRegistryPresenceReporting(t *testing.T) {
	presence := &fakePresence{}
	r := NewRegistry(presence, zerolog.Nop())
	conn := newFakeConn("c1")

	r.Register("alice", conn)
	waitFor(t, func() bool { return len(presence.snapshot()) == 1 })

	updates := presence.snapshot()
	if !updates[0].online || updates[0].username != "alice" {
		t.Fatalf("expected alice online, got %+v", updates[0])
	}

	r.Unregister("alice", "c1")
	waitFor(t, func() bool { return len(presence.snapshot()) == 2 })

	updates = presence.snapshot()
	if updates[1].online {
		t.Fatalf("expected alice offline, got %+v", updates[1])
	}
}
