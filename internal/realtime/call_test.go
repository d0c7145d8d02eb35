package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// fakeCallStore records every persisted call outcome.
type fakeCallStore struct {
	mu      sync.Mutex
	records []models.CallRecord
}

func (s *fakeCallStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeCallStore) snapshot() []models.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

func callFixture(t *testing.T, timeout time.Duration) (*CallManager, *fakeCallStore, *fakeConn, *fakeConn) {
	t.Helper()
	registry := NewRegistry(nil, zerolog.Nop())
	store := &fakeCallStore{}
	m := NewCallManager(registry, store, timeout, zerolog.Nop())

	alice := newFakeConn("conn-alice")
	bob := newFakeConn("conn-bob")
	registry.Register("alice", alice)
	registry.Register("bob", bob)
	return m, store, alice, bob
}

func TestCallInitiateRingsReceiver(t *testing.T) {
	m, store, alice, bob := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")

	if got := bob.countEvent(EventIncomingCall); got != 1 {
		t.Fatalf("expected 1 incomingCall, got %d", got)
	}
	if got := alice.countEvent(EventCallFailed); got != 0 {
		t.Fatalf("unexpected callFailed: %d", got)
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("ringing call should not be persisted yet")
	}
}

func TestCallInitiateUnreachableReceiver(t *testing.T) {
	m, store, alice, _ := callFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "carol")

	if got := alice.countEvent(EventCallFailed); got != 1 {
		t.Fatalf("expected 1 callFailed, got %d", got)
	}

	// No timer was armed, so nothing may appear later either.
	time.Sleep(60 * time.Millisecond)
	if len(store.snapshot()) != 0 {
		t.Fatalf("failed attempt must never be persisted, got %+v", store.snapshot())
	}
}

func TestCallDuplicateInitiateRejected(t *testing.T) {
	m, _, alice, bob := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.Initiate(ctx, "alice", "bob")

	if got := alice.countEvent(EventCallFailed); got != 1 {
		t.Fatalf("expected second initiate to fail, got %d callFailed", got)
	}
	if got := bob.countEvent(EventIncomingCall); got != 1 {
		t.Fatalf("receiver should ring exactly once, got %d", got)
	}
}

func TestCallAcceptThenEnd(t *testing.T) {
	m, store, alice, bob := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.Accept(ctx, "bob", "alice")

	if alice.countEvent(EventCallAccepted) != 1 || bob.countEvent(EventCallAccepted) != 1 {
		t.Fatal("both parties should observe callAccepted")
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("active call should not be persisted yet")
	}

	m.End(ctx, "bob", "alice")

	records := store.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != models.CallAnswered {
		t.Fatalf("expected answered, got %s", rec.Status)
	}
	if rec.Caller != "alice" || rec.Receiver != "bob" {
		t.Fatalf("wrong parties: %s -> %s", rec.Caller, rec.Receiver)
	}
	if alice.countEvent(EventCallEnded) != 1 || bob.countEvent(EventCallEnded) != 1 {
		t.Fatal("both parties should observe callEnded")
	}
	if alice.countEvent(EventCallHistoryUpdated) != 1 || bob.countEvent(EventCallHistoryUpdated) != 1 {
		t.Fatal("both parties should be told to refresh call history")
	}
}

func TestCallTimeoutRecordsMissed(t *testing.T) {
	m, store, alice, bob := callFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")

	waitFor(t, func() bool { return len(store.snapshot()) == 1 })

	rec := store.snapshot()[0]
	if rec.Status != models.CallMissed {
		t.Fatalf("expected missed, got %s", rec.Status)
	}
	if rec.Duration != 0 {
		t.Fatalf("missed call should have zero duration, got %d", rec.Duration)
	}
	if alice.countEvent(EventCallMissed) != 1 || bob.countEvent(EventCallMissed) != 1 {
		t.Fatal("both parties should observe callMissed")
	}

	// A late accept after expiry does nothing.
	m.Accept(ctx, "bob", "alice")
	if alice.countEvent(EventCallAccepted) != 0 {
		t.Fatal("late accept must lose against expiry")
	}
	if len(store.snapshot()) != 1 {
		t.Fatal("exactly one record per attempt")
	}
}

func TestCallAcceptBeatsExpiry(t *testing.T) {
	m, store, _, _ := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	c := m.get("alice")
	if c == nil {
		t.Fatal("call should be tracked")
	}

	m.Accept(ctx, "bob", "alice")

	// A racing expiry firing after the accept must not produce a missed
	// record; the state transition already went to active.
	m.expire(c)
	if len(store.snapshot()) != 0 {
		t.Fatalf("expiry after accept must not persist, got %+v", store.snapshot())
	}

	m.End(ctx, "alice", "bob")
	records := store.snapshot()
	if len(records) != 1 || records[0].Status != models.CallAnswered {
		t.Fatalf("expected single answered record, got %+v", records)
	}
}

// TestCallAcceptRacesRingTimer pits an accept against the live ring timer:
// exactly one of them may win each attempt, and the timer handle has to be
// safe to touch from both goroutines. Run with -race.
func TestCallAcceptRacesRingTimer(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		m, store, alice, _ := callFixture(t, time.Millisecond)

		m.Initiate(ctx, "alice", "bob")
		m.Accept(ctx, "bob", "alice")

		waitFor(t, func() bool {
			return alice.countEvent(EventCallAccepted) == 1 || len(store.snapshot()) == 1
		})
		// Let a losing timer fire anyway before judging the outcome.
		time.Sleep(3 * time.Millisecond)

		accepted := alice.countEvent(EventCallAccepted)
		records := store.snapshot()
		switch {
		case accepted == 1 && len(records) == 0:
			m.End(ctx, "alice", "bob")
		case accepted == 0 && len(records) == 1 && records[0].Status == models.CallMissed:
		default:
			t.Fatalf("iteration %d: accepted=%d records=%+v", i, accepted, records)
		}
	}
}

func TestCallDecline(t *testing.T) {
	m, store, alice, bob := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.Decline(ctx, "bob", "alice")

	records := store.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Status != models.CallRejected {
		t.Fatalf("expected rejected, got %s", records[0].Status)
	}
	if records[0].Caller != "alice" || records[0].Receiver != "bob" {
		t.Fatalf("wrong parties: %s -> %s", records[0].Caller, records[0].Receiver)
	}
	if alice.countEvent(EventCallDeclined) != 1 || bob.countEvent(EventCallDeclined) != 1 {
		t.Fatal("both parties should observe callDeclined")
	}
}

func TestCallCancel(t *testing.T) {
	m, store, _, bob := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.Cancel(ctx, "alice", "bob")

	records := store.snapshot()
	if len(records) != 1 || records[0].Status != models.CallCancelled {
		t.Fatalf("expected single cancelled record, got %+v", records)
	}
	if bob.countEvent(EventCallEnded) != 1 {
		t.Fatal("receiver should observe the call ending")
	}
}

func TestCallCancelOnlyByCaller(t *testing.T) {
	m, store, _, _ := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.Cancel(ctx, "bob", "alice")

	if len(store.snapshot()) != 0 {
		t.Fatal("receiver must not be able to cancel")
	}
}

func TestCallDisconnectCallerCancelsRinging(t *testing.T) {
	m, store, _, _ := callFixture(t, time.Minute)
	ctx := context.Background()

	m.Initiate(ctx, "alice", "bob")
	m.DisconnectUser("alice")

	records := store.snapshot()
	if len(records) != 1 || records[0].Status != models.CallCancelled {
		t.Fatalf("expected cancelled record, got %+v", records)
	}
}

func TestCallPeerOf(t *testing.T) {
	m, _, _, _ := callFixture(t, time.Minute)
	ctx := context.Background()

	if _, ok := m.PeerOf("alice"); ok {
		t.Fatal("no call yet")
	}

	m.Initiate(ctx, "alice", "bob")

	if peer, ok := m.PeerOf("alice"); !ok || peer != "bob" {
		t.Fatalf("expected bob, got %q %v", peer, ok)
	}
	if peer, ok := m.PeerOf("bob"); !ok || peer != "alice" {
		t.Fatalf("expected alice, got %q %v", peer, ok)
	}

	m.End(ctx, "alice", "bob")
	if _, ok := m.PeerOf("alice"); ok {
		t.Fatal("terminated call should have no peer")
	}
}
