package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// StatusHistoryLimit caps the message list re-broadcast after a status change.
const StatusHistoryLimit = 100

// StatusStore is the slice of the persistence collaborator the propagator
// depends on.
type StatusStore interface {
	MarkMessagesSeen(ctx context.Context, conversationID, recipient string) (int64, error)
	AddMessageSeenBy(ctx context.Context, conversationID, username string) (int64, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// Propagator moves message statuses forward when a user joins a conversation
// and re-broadcasts the result so every member observes the change.
type Propagator struct {
	store  StatusStore
	rooms  *Rooms
	logger zerolog.Logger
}

// NewPropagator creates a status propagator.
func NewPropagator(store StatusStore, rooms *Rooms, logger zerolog.Logger) *Propagator {
	return &Propagator{
		store:  store,
		rooms:  rooms,
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// OnJoin marks messages seen for the joining user — private rooms flip the
// status of everything addressed to the joiner, group rooms add the joiner to
// each message's seen-by set — then re-fetches the room's recent messages and
// broadcasts them to all members. The re-read after the update is intentional:
// the broadcast reflects committed state, not an in-memory approximation.
func (p *Propagator) OnJoin(ctx context.Context, conv *models.Conversation, username string) {
	conversationID := conv.ID.String()

	var err error
	if conv.IsPrivate() {
		_, err = p.store.MarkMessagesSeen(ctx, conversationID, username)
	} else {
		_, err = p.store.AddMessageSeenBy(ctx, conversationID, username)
	}
	if err != nil {
		p.logger.Error().Err(err).Str("conversation", conversationID).Str("username", username).
			Msg("message status update failed")
		return
	}

	messages, err := p.store.ListMessages(ctx, conversationID, StatusHistoryLimit)
	if err != nil {
		p.logger.Error().Err(err).Str("conversation", conversationID).
			Msg("message re-read failed, statuses updated but not broadcast")
		return
	}

	p.rooms.Broadcast(conversationID, EventStatusUpdate, messages, "")
}
