package handlers

import (
	"net/http"

	"github.com/mhelail/real-time-communication-platform/internal/api/middleware"
)

// CallHistory returns the caller's recent calls, most recent first.
func (h *Handler) CallHistory(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	limit := limitParam(r, 50, 100)
	records, err := h.db.ListCallHistory(r.Context(), caller.Username, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"calls": records})
}
