package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// UserSummary is the public view of an account, with live presence when the
// presence store is available.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"` // unix millis, 0 when never seen
}

// ListUsers returns registered accounts, optionally filtered by ?q=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := limitParam(r, 50, 100)

	var (
		users []models.User
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		users, err = h.db.SearchUsers(ctx, q, limit)
	} else {
		users, err = h.db.ListUsers(ctx, limit)
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, h.summarize(r, u))
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"users": summaries})
}

// GetUser returns a single account by username.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, h.summarize(r, *user))
}

func (h *Handler) summarize(r *http.Request, u models.User) UserSummary {
	s := UserSummary{ID: u.ID.String(), Username: u.Username}
	if h.redis == nil {
		return s
	}
	p, err := h.redis.GetUserPresence(r.Context(), u.Username)
	if err != nil || p == nil {
		return s
	}
	s.Online = p.Online
	if !p.LastSeen.IsZero() {
		s.LastSeen = p.LastSeen.UnixMilli()
	}
	return s
}
