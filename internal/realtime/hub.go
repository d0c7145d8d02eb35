package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// Store is the full persistence collaborator surface the realtime layer
// consumes. Every call into it may block or fail independently; the hub
// tolerates both and never holds internal locks across these calls.
type Store interface {
	CallStore
	StatusStore
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
}

const dispatchTimeout = 10 * time.Second

// Hub wires the realtime components together and dispatches the event surface
// of a connection. Every handler is terminal for its own event: errors are
// contained and logged, never propagated across the connection boundary.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	calls    *CallManager
	relay    *Relay
	status   *Propagator

	store  Store
	logger zerolog.Logger
}

// NewHub creates a hub and its components. presence may be nil.
func NewHub(store Store, presence PresenceReporter, callTimeout time.Duration, logger zerolog.Logger) *Hub {
	registry := NewRegistry(presence, logger)
	rooms := NewRooms(logger)
	return &Hub{
		registry: registry,
		rooms:    rooms,
		calls:    NewCallManager(registry, store, callTimeout, logger),
		relay:    NewRelay(registry, logger),
		status:   NewPropagator(store, rooms, logger),
		store:    store,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Registry exposes the connection registry for collaborators outside the
// realtime layer (e.g. presence queries in the REST surface).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Disconnected releases everything a connection held: room memberships, any
// ringing call it was party to, and its registry entry. A stale entry from a
// superseded session is left for the newer connection.
func (h *Hub) Disconnected(s *Session) {
	h.rooms.LeaveAll(s.Conn.ID())
	if s.Username != "" {
		h.calls.DisconnectUser(s.Username)
		h.registry.Unregister(s.Username, s.Conn.ID())
	}
}

// Dispatch routes one inbound frame. Malformed payloads and identity
// mismatches are dropped with a log entry and no client-visible error.
func (h *Hub) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.drop("malformed", s, "", "unparseable frame")
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	if env.Event == EventSetUsername {
		h.handleSetUsername(s, env.Data)
		return
	}
	if env.Event == EventDisconnect {
		_ = s.Conn.Close()
		return
	}

	// Everything else requires an announced identity.
	if s.Username == "" {
		h.drop("malformed", s, env.Event, "event before setUsername")
		return
	}

	switch env.Event {
	case EventJoinConversation:
		h.handleJoin(ctx, s, env.Data)
	case EventMessage:
		h.handleMessage(ctx, s, env.Data)
	case EventCallInitiated, EventCallAccepted, EventCallCancelled, EventCallDeclined, EventCallEnded:
		h.handleCall(ctx, s, env.Event, env.Data)
	case EventOffer, EventAnswer, EventICECandidate:
		h.handleSignal(s, env.Event, env.Data)
	case EventMuteStatus:
		h.handleMuteStatus(s, env.Data)
	default:
		h.drop("unknown_event", s, env.Event, "unknown event")
	}
}

func (h *Hub) handleSetUsername(s *Session, data json.RawMessage) {
	var p SetUsernamePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Username == "" {
		h.drop("malformed", s, EventSetUsername, "missing username")
		return
	}
	if p.Username != s.Auth {
		h.drop("identity_mismatch", s, EventSetUsername, "announced username does not match token")
		return
	}

	h.registry.Register(p.Username, s.Conn)
	s.Username = p.Username
	h.logger.Info().Str("username", p.Username).Str("conn", s.Conn.ID()).Msg("session bound")
}

func (h *Hub) handleJoin(ctx context.Context, s *Session, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		h.drop("malformed", s, EventJoinConversation, "missing conversationId")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		h.drop("malformed", s, EventJoinConversation, "invalid conversationId")
		return
	}

	// Membership is fetched once per join to validate participation before
	// admitting the connection to the live room.
	conv, err := h.store.GetConversation(ctx, convID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", p.ConversationID).Msg("conversation lookup failed")
		return
	}
	if conv == nil {
		h.drop("malformed", s, EventJoinConversation, "conversation not found")
		return
	}
	if !conv.HasParticipant(s.Username) {
		h.drop("identity_mismatch", s, EventJoinConversation, "user is not a participant")
		return
	}

	h.rooms.Join(conv.ID.String(), s.Conn)
	h.status.OnJoin(ctx, conv, s.Username)
}

func (h *Hub) handleMessage(ctx context.Context, s *Session, data json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" || p.Content == "" {
		h.drop("malformed", s, EventMessage, "missing fields")
		return
	}
	if p.From != s.Username {
		h.drop("identity_mismatch", s, EventMessage, "sender does not match session")
		return
	}
	if len(p.Content) > models.MaxMessageLength {
		h.drop("malformed", s, EventMessage, "content too long")
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		h.drop("malformed", s, EventMessage, "invalid conversationId")
		return
	}

	conv, err := h.store.GetConversation(ctx, convID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", p.ConversationID).Msg("conversation lookup failed")
		return
	}
	if conv == nil {
		h.drop("malformed", s, EventMessage, "conversation not found")
		return
	}

	msg := &models.Message{
		ConversationID: conv.ID.String(),
		From:           p.From,
		Content:        p.Content,
	}
	if conv.IsPrivate() {
		msg.To = conv.OtherParticipant(p.From)
	}

	// Durable write first; if it fails the message is still fanned out —
	// real-time delivery degrades independently of the store (the generated
	// ID and timestamp are filled in before the write is attempted).
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.logger.Error().Err(err).Str("conversation", msg.ConversationID).Msg("message write failed")
	}

	delivered := h.rooms.Broadcast(conv.ID.String(), EventNewMessage, msg, "")
	metrics.MessagesFannedOut.Add(float64(delivered))
}

func (h *Hub) handleCall(ctx context.Context, s *Session, event string, data json.RawMessage) {
	var p CallPayload
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" || p.To == "" {
		h.drop("malformed", s, event, "missing fields")
		return
	}
	if p.From != s.Username {
		h.drop("identity_mismatch", s, event, "declared actor does not match session")
		return
	}

	switch event {
	case EventCallInitiated:
		h.calls.Initiate(ctx, p.From, p.To)
	case EventCallAccepted:
		h.calls.Accept(ctx, p.From, p.To)
	case EventCallCancelled:
		h.calls.Cancel(ctx, p.From, p.To)
	case EventCallDeclined:
		h.calls.Decline(ctx, p.From, p.To)
	case EventCallEnded:
		h.calls.End(ctx, p.From, p.To)
	}
}

func (h *Hub) handleSignal(s *Session, event string, data json.RawMessage) {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		h.drop("malformed", s, event, "missing fields")
		return
	}
	h.relay.Forward(event, p)
}

func (h *Hub) handleMuteStatus(s *Session, data json.RawMessage) {
	var p MuteStatusPayload
	if err := json.Unmarshal(data, &p); err != nil || p.From == "" {
		h.drop("malformed", s, EventMuteStatus, "missing fields")
		return
	}
	if p.From != s.Username {
		h.drop("identity_mismatch", s, EventMuteStatus, "declared actor does not match session")
		return
	}

	peer, ok := h.calls.PeerOf(s.Username)
	if !ok {
		return
	}
	conn, ok := h.registry.Resolve(peer)
	if !ok {
		return
	}
	if err := conn.Send(EventMuteStatus, p); err != nil {
		h.logger.Warn().Err(err).Str("peer", peer).Msg("mute status delivery failed")
	}
}

func (h *Hub) drop(reason string, s *Session, event, detail string) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	h.logger.Warn().Str("reason", reason).Str("event", event).Str("conn", s.Conn.ID()).
		Str("username", s.Username).Msg(detail)
}
