package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mhelail/real-time-communication-platform/internal/api/middleware"
	"github.com/mhelail/real-time-communication-platform/internal/models"
)

const maxGroupParticipants = 50

// CreateConversationRequest represents the conversation creation body.
type CreateConversationRequest struct {
	Type         string   `json:"type"` // "private" or "group"
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
}

// CreateConversation creates a conversation. Private conversations are
// idempotent: requesting an existing pair returns the existing record.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	participants, err := h.normalizeParticipants(r, caller.Username, req.Participants)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Type {
	case models.ConversationPrivate, "":
		if len(participants) != 2 {
			h.Error(w, http.StatusBadRequest, "private conversations need exactly one other participant")
			return
		}
		existing, err := h.db.FindPrivateConversation(r.Context(), participants[0], participants[1])
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if existing != nil {
			h.JSON(w, http.StatusOK, existing)
			return
		}
		conv, err := h.db.CreateConversation(r.Context(), models.ConversationPrivate, "", participants)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		h.JSON(w, http.StatusCreated, conv)

	case models.ConversationGroup:
		name := sanitizeName(req.Name)
		if name == "" {
			h.Error(w, http.StatusBadRequest, "group conversations require a name")
			return
		}
		if len(participants) < 2 {
			h.Error(w, http.StatusBadRequest, "group conversations need at least two participants")
			return
		}
		conv, err := h.db.CreateConversation(r.Context(), models.ConversationGroup, name, participants)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		h.JSON(w, http.StatusCreated, conv)

	default:
		h.Error(w, http.StatusBadRequest, "type must be private or group")
	}
}

// normalizeParticipants dedupes the list, ensures the caller is included and
// verifies every participant is a registered account.
func (h *Handler) normalizeParticipants(r *http.Request, caller string, raw []string) ([]string, error) {
	seen := map[string]bool{caller: true}
	participants := []string{caller}
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		participants = append(participants, p)
	}
	if len(participants) > maxGroupParticipants {
		return nil, errTooManyParticipants
	}
	for _, p := range participants {
		if p == caller {
			continue
		}
		user, err := h.db.GetUserByUsername(r.Context(), p)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, &unknownParticipantError{username: p}
		}
	}
	sort.Strings(participants)
	return participants, nil
}

var errTooManyParticipants = &participantError{"too many participants"}

type participantError struct{ msg string }

func (e *participantError) Error() string { return e.msg }

type unknownParticipantError struct{ username string }

func (e *unknownParticipantError) Error() string { return "unknown participant: " + e.username }

// ListConversations returns the caller's conversations, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	convs, err := h.db.ListConversationsForUser(r.Context(), caller.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

// GetMessages returns the most recent messages of a conversation in
// chronological order. Only participants may read them.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := h.db.GetConversation(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !conv.HasParticipant(caller.Username) {
		h.Error(w, http.StatusForbidden, "not a participant")
		return
	}

	limit := limitParam(r, 50, 100)
	messages, err := h.db.ListMessages(r.Context(), conv.ID.String(), limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
