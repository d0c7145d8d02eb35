package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/mhelail/real-time-communication-platform/internal/store"
)

// usernameRegex restricts usernames to URL- and log-safe characters.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db        store.DataStore
	redis     *store.RedisStore
	jwtSecret string
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(db store.DataStore, redis *store.RedisStore, jwtSecret string) *Handler {
	return &Handler{db: db, redis: redis, jwtSecret: jwtSecret}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// isValidUsername validates a username.
func isValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

// sanitizeName trims and limits display names to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// limitParam parses the ?limit= query parameter, clamped to [1, max].
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
