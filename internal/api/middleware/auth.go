package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/crypto"
	"github.com/mhelail/real-time-communication-platform/internal/models"
	"github.com/mhelail/real-time-communication-platform/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware verifies bearer tokens on authenticated endpoints.
type AuthMiddleware struct {
	db     store.DataStore
	secret string
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(db store.DataStore, secret string, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{db: db, secret: secret, logger: logger}
}

// RequireAuth verifies the Authorization header and loads the account it was
// issued for. Tokens for deleted accounts are rejected even when the
// signature is still valid.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		username, err := crypto.VerifyToken(m.secret, token)
		if err != nil {
			if err == crypto.ErrExpiredToken {
				jsonError(w, http.StatusUnauthorized, "token expired")
				return
			}
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := m.db.GetUserByUsername(r.Context(), username)
		if err != nil {
			m.logger.Error().Err(err).Str("username", username).Msg("auth lookup failed")
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "account not found")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
