package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers         int64 `json:"total_users"`
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	TotalCalls         int64 `json:"total_calls"`
	OnlineUsers        int64 `json:"online_users"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.db.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalConversations, err := h.db.CountConversations(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count conversations")
		return
	}

	totalMessages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	totalCalls, err := h.db.CountCalls(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count calls")
		return
	}

	var online int64
	if h.redis != nil {
		// Non-fatal, presence is best-effort.
		online, _ = h.redis.CountOnline(ctx)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:         totalUsers,
		TotalConversations: totalConversations,
		TotalMessages:      totalMessages,
		TotalCalls:         totalCalls,
		OnlineUsers:        online,
	})
}
