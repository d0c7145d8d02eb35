package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mhelail/real-time-communication-platform/internal/crypto"
	"github.com/mhelail/real-time-communication-platform/internal/store"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by both register and login.
type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Register handles account creation.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if !isValidUsername(username) {
		h.Error(w, http.StatusBadRequest, "username must be 3-32 characters (letters, digits, _ . -)")
		return
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		h.Error(w, http.StatusBadRequest, "password must be 8-72 characters")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), username, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.Error(w, http.StatusConflict, "username already taken")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	token, err := crypto.IssueToken(h.jwtSecret, user.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusCreated, AuthResponse{Token: token, Username: user.Username})
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles credential verification and token issuance.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	// Same response for unknown user and bad password.
	if user == nil || !crypto.CheckPassword(user.PasswordHash, req.Password) {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := crypto.IssueToken(h.jwtSecret, user.Username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, AuthResponse{Token: token, Username: user.Username})
}
