package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// CallStore persists terminal call outcomes.
type CallStore interface {
	SaveCallRecord(ctx context.Context, rec *models.CallRecord) error
}

type callState int32

const (
	callRinging callState = iota
	callActive
	callTerminated
)

// call is one in-flight call attempt. Its state field is the single point of
// truth: every terminal path (end, decline, cancel, timer expiry) and the
// accept path compete on compare-and-swap transitions, so exactly one of them
// wins and the losers perform no side effects.
type call struct {
	caller     string
	receiver   string
	started    time.Time
	state      atomic.Int32
	timer      *time.Timer
	acceptedAt atomic.Int64 // unix nano, 0 until accepted
}

func (c *call) transition(from, to callState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *call) terminated() bool {
	return callState(c.state.Load()) == callTerminated
}

// CallManager owns every Call record and its ring timer; no other component
// mutates them. Outstanding calls are keyed by the initiating username so
// that concurrently-initiated cross calls between the same two users stay
// distinct.
type CallManager struct {
	mu    sync.Mutex
	calls map[string]*call

	registry *Registry
	store    CallStore
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCallManager creates a call manager. timeout is how long a call rings
// before it is recorded as missed.
func NewCallManager(registry *Registry, store CallStore, timeout time.Duration, logger zerolog.Logger) *CallManager {
	return &CallManager{
		calls:    make(map[string]*call),
		registry: registry,
		store:    store,
		timeout:  timeout,
		logger:   logger.With().Str("component", "calls").Logger(),
	}
}

// Initiate starts a new call attempt from caller to receiver. If the receiver
// is not reachable the caller alone is told the call failed; no timer is
// armed and no record will ever be persisted for the attempt.
func (m *CallManager) Initiate(ctx context.Context, from, to string) {
	m.mu.Lock()
	if existing, ok := m.calls[from]; ok && !existing.terminated() {
		m.mu.Unlock()
		m.notify(from, EventCallFailed, CallFailedPayload{Message: "a call is already in progress"})
		return
	}

	receiverConn, reachable := m.registry.Resolve(to)
	if !reachable {
		m.mu.Unlock()
		metrics.CallsFailed.Inc()
		m.logger.Info().Str("caller", from).Str("receiver", to).Msg("call to unreachable receiver")
		m.notify(from, EventCallFailed, CallFailedPayload{Message: "user is not reachable"})
		return
	}

	c := &call{
		caller:   from,
		receiver: to,
		started:  time.Now().UTC(),
	}
	// Arm the timer before publishing the call so every later observer sees
	// it. The handle is read back only under mu (stopTimer), which orders an
	// immediate expiry after this write.
	c.timer = time.AfterFunc(m.timeout, func() { m.expire(c) })
	m.calls[from] = c
	m.mu.Unlock()

	if err := receiverConn.Send(EventIncomingCall, IncomingCallPayload{From: from}); err != nil {
		m.logger.Warn().Err(err).Str("receiver", to).Msg("incoming call notification failed")
	}
}

// Accept transitions a ringing call to active. from is the accepting receiver,
// to the original caller. If the ring timer fired first, the accept loses the
// race and does nothing.
func (m *CallManager) Accept(ctx context.Context, from, to string) {
	c := m.get(to)
	if c == nil || c.caller != to || c.receiver != from {
		m.logger.Warn().Str("from", from).Str("to", to).Msg("accept for unknown call, dropped")
		return
	}

	if !c.transition(callRinging, callActive) {
		// Timer expiry or another terminal event won; its outcome stands.
		m.logger.Debug().Str("caller", to).Msg("accept lost transition race")
		return
	}

	c.acceptedAt.Store(time.Now().UnixNano())
	m.stopTimer(c)

	m.notify(c.caller, EventCallAccepted, struct{}{})
	m.notify(c.receiver, EventCallAccepted, struct{}{})
}

// Decline terminates a ringing call as rejected. from is the declining
// receiver, to the original caller.
func (m *CallManager) Decline(ctx context.Context, from, to string) {
	c := m.get(to)
	if c == nil || c.caller != to || c.receiver != from {
		m.logger.Warn().Str("from", from).Str("to", to).Msg("decline for unknown call, dropped")
		return
	}
	m.terminate(ctx, c, models.CallRejected)
}

// Cancel terminates a ringing call as cancelled. Only the original caller may
// cancel.
func (m *CallManager) Cancel(ctx context.Context, from, to string) {
	c := m.get(from)
	if c == nil || c.caller != from || c.receiver != to {
		m.logger.Warn().Str("from", from).Str("to", to).Msg("cancel for unknown call, dropped")
		return
	}
	m.terminate(ctx, c, models.CallCancelled)
}

// End terminates a call as answered. Either party may end; a callEnded with
// no preceding accept is still recorded as answered, matching the lifecycle
// the clients drive.
func (m *CallManager) End(ctx context.Context, from, to string) {
	c := m.get(from)
	if c == nil || c.receiver != to {
		if c = m.get(to); c == nil || c.receiver != from {
			m.logger.Warn().Str("from", from).Str("to", to).Msg("end for unknown call, dropped")
			return
		}
	}
	m.terminate(ctx, c, models.CallAnswered)
}

// DisconnectUser resolves calls orphaned by a dropped connection: a caller's
// ringing call is cancelled, a receiver's ringing call is ended. Calls in any
// other state are left alone.
func (m *CallManager) DisconnectUser(username string) {
	m.mu.Lock()
	var asCaller *call
	var asReceiver []*call
	if c, ok := m.calls[username]; ok && !c.terminated() {
		asCaller = c
	}
	for _, c := range m.calls {
		if c.receiver == username && !c.terminated() {
			asReceiver = append(asReceiver, c)
		}
	}
	m.mu.Unlock()

	ctx := context.Background()
	if asCaller != nil {
		m.terminate(ctx, asCaller, models.CallCancelled)
	}
	for _, c := range asReceiver {
		m.terminate(ctx, c, models.CallAnswered)
	}
}

// PeerOf returns the other party of the user's in-flight call, if any.
func (m *CallManager) PeerOf(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.calls[username]; ok && !c.terminated() {
		return c.receiver, true
	}
	for _, c := range m.calls {
		if c.receiver == username && !c.terminated() {
			return c.caller, true
		}
	}
	return "", false
}

func (m *CallManager) get(caller string) *call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[caller]
}

func (m *CallManager) remove(c *call) {
	m.mu.Lock()
	if m.calls[c.caller] == c {
		delete(m.calls, c.caller)
	}
	m.mu.Unlock()
}

// stopTimer stops the ring timer. The handle is written in Initiate under mu
// and the timer callback runs on its own goroutine, so it must only be read
// back under the same lock.
func (m *CallManager) stopTimer(c *call) {
	m.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	m.mu.Unlock()
}

// expire is the ring timer path. The compare-and-swap inside terminate makes
// it atomic with respect to a concurrently-arriving accept: whichever
// transitions the state first is authoritative.
func (m *CallManager) expire(c *call) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.terminate(ctx, c, models.CallMissed)
}

// terminate drives the call to its terminal state. Reports whether this
// caller won the transition; losers perform no side effects. The winner stops
// the timer, persists exactly one record and notifies both parties —
// persistence is best-effort and never rolls back notifications.
func (m *CallManager) terminate(ctx context.Context, c *call, status string) bool {
	var won bool
	if status == models.CallAnswered {
		won = c.transition(callRinging, callTerminated) || c.transition(callActive, callTerminated)
	} else {
		won = c.transition(callRinging, callTerminated)
	}
	if !won {
		return false
	}

	m.stopTimer(c)
	m.remove(c)

	now := time.Now().UTC()
	var duration int64
	if accepted := c.acceptedAt.Load(); accepted > 0 {
		duration = int64(now.Sub(time.Unix(0, accepted)).Seconds())
	}

	rec := &models.CallRecord{
		Caller:    c.caller,
		Receiver:  c.receiver,
		StartTime: c.started,
		EndTime:   now,
		Duration:  duration,
		Status:    status,
	}
	if err := m.store.SaveCallRecord(ctx, rec); err != nil {
		m.logger.Error().Err(err).Str("caller", c.caller).Str("status", status).
			Msg("call record write failed")
	}
	metrics.CallsTerminated.WithLabelValues(status).Inc()

	switch status {
	case models.CallMissed:
		p := CallMissedPayload{From: c.caller, To: c.receiver}
		m.notify(c.caller, EventCallMissed, p)
		m.notify(c.receiver, EventCallMissed, p)
	case models.CallRejected:
		p := CallPayload{From: c.receiver, To: c.caller}
		m.notify(c.caller, EventCallDeclined, p)
		m.notify(c.receiver, EventCallDeclined, p)
	default:
		m.notify(c.caller, EventCallEnded, struct{}{})
		m.notify(c.receiver, EventCallEnded, struct{}{})
	}

	m.notify(c.caller, EventCallHistoryUpdated, struct{}{})
	m.notify(c.receiver, EventCallHistoryUpdated, struct{}{})
	return true
}

// notify delivers an event to a user's current connection, if reachable.
func (m *CallManager) notify(username, event string, payload any) {
	conn, ok := m.registry.Resolve(username)
	if !ok {
		return
	}
	if err := conn.Send(event, payload); err != nil {
		m.logger.Warn().Err(err).Str("username", username).Str("event", event).
			Msg("call notification failed")
	}
}
