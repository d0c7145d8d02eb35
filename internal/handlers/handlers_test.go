package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mhelail/real-time-communication-platform/internal/api/middleware"
	"github.com/mhelail/real-time-communication-platform/internal/crypto"
	"github.com/mhelail/real-time-communication-platform/internal/models"
	"github.com/mhelail/real-time-communication-platform/internal/store"
)

const testSecret = "test-secret"

// fakeDataStore is an in-memory DataStore for handler tests.
type fakeDataStore struct {
	mu            sync.Mutex
	users         map[string]*models.User
	conversations map[uuid.UUID]*models.Conversation
	messages      map[string][]models.Message
	calls         []models.CallRecord
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		users:         make(map[string]*models.User),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *fakeDataStore) Close()                         {}
func (s *fakeDataStore) Ping(ctx context.Context) error { return nil }

func (s *fakeDataStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, store.ErrConflict
	}
	u := &models.User{ID: uuid.New(), Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.users[username] = u
	return u, nil
}

func (s *fakeDataStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeDataStore) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeDataStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	all, _ := s.ListUsers(ctx, limit)
	var out []models.User
	for _, u := range all {
		if strings.Contains(u.Username, query) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeDataStore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *fakeDataStore) CreateConversation(ctx context.Context, convType, name string, participants []string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &models.Conversation{
		ID:           uuid.New(),
		Type:         convType,
		Name:         name,
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *fakeDataStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id], nil
}

func (s *fakeDataStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Type == models.ConversationPrivate && c.HasParticipant(userA) && c.HasParticipant(userB) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *fakeDataStore) ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(username) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeDataStore) CountConversations(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.conversations)), nil
}

func (s *fakeDataStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *fakeDataStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeDataStore) MarkMessagesSeen(ctx context.Context, conversationID, recipient string) (int64, error) {
	return 0, nil
}

func (s *fakeDataStore) AddMessageSeenBy(ctx context.Context, conversationID, username string) (int64, error) {
	return 0, nil
}

func (s *fakeDataStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msgs := range s.messages {
		n += int64(len(msgs))
	}
	return n, nil
}

func (s *fakeDataStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, *rec)
	return nil
}

func (s *fakeDataStore) ListCallHistory(ctx context.Context, username string, limit int) ([]models.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CallRecord
	for _, c := range s.calls {
		if c.Caller == username || c.Receiver == username {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeDataStore) CountCalls(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.calls)), nil
}

func fixture(t *testing.T) (*Handler, *fakeDataStore) {
	t.Helper()
	db := newFakeDataStore()
	return NewHandler(db, nil, testSecret), db
}

func registerUser(t *testing.T, db *fakeDataStore, username string) *models.User {
	t.Helper()
	hash, err := crypto.HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	u, err := db.CreateUser(context.Background(), username, hash)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

// asUser attaches an authenticated user to the request context, the way
// RequireAuth does in production.
func asUser(r *http.Request, u *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserContextKey, u))
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	h, _ := fixture(t)

	w := httptest.NewRecorder()
	h.Register(w, postJSON(t, "/api/auth/register", RegisterRequest{Username: "alice", Password: "password123"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var reg AuthResponse
	decode(t, w, &reg)
	if reg.Token == "" || reg.Username != "alice" {
		t.Fatalf("unexpected response: %+v", reg)
	}

	// The issued token verifies against the same secret.
	if username, err := crypto.VerifyToken(testSecret, reg.Token); err != nil || username != "alice" {
		t.Fatalf("token does not verify: %v", err)
	}

	w = httptest.NewRecorder()
	h.Login(w, postJSON(t, "/api/auth/login", LoginRequest{Username: "alice", Password: "password123"}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	h, _ := fixture(t)

	w := httptest.NewRecorder()
	h.Register(w, postJSON(t, "/api/auth/register", RegisterRequest{Username: "alice", Password: "password123"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Register(w, postJSON(t, "/api/auth/register", RegisterRequest{Username: "alice", Password: "password456"}))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _ := fixture(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"short username", RegisterRequest{Username: "ab", Password: "password123"}},
		{"bad characters", RegisterRequest{Username: "alice smith", Password: "password123"}},
		{"short password", RegisterRequest{Username: "alice", Password: "short"}},
		{"empty", RegisterRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Register(w, postJSON(t, "/api/auth/register", tt.req))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h, db := fixture(t)
	registerUser(t, db, "alice")

	w := httptest.NewRecorder()
	h.Login(w, postJSON(t, "/api/auth/login", LoginRequest{Username: "alice", Password: "wrong"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// Unknown user produces the same status.
	w = httptest.NewRecorder()
	h.Login(w, postJSON(t, "/api/auth/login", LoginRequest{Username: "nobody", Password: "wrong"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", w.Code)
	}
}

func TestCreatePrivateConversationIdempotent(t *testing.T) {
	h, db := fixture(t)
	alice := registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	req := CreateConversationRequest{Type: models.ConversationPrivate, Participants: []string{"bob"}}

	w := httptest.NewRecorder()
	h.CreateConversation(w, asUser(postJSON(t, "/api/conversations", req), alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var first models.Conversation
	decode(t, w, &first)

	w = httptest.NewRecorder()
	h.CreateConversation(w, asUser(postJSON(t, "/api/conversations", req), alice))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing pair, got %d", w.Code)
	}
	var second models.Conversation
	decode(t, w, &second)

	if first.ID != second.ID {
		t.Fatal("repeated private creation should return the same conversation")
	}
}

func TestCreateConversationUnknownParticipant(t *testing.T) {
	h, db := fixture(t)
	alice := registerUser(t, db, "alice")

	w := httptest.NewRecorder()
	h.CreateConversation(w, asUser(postJSON(t, "/api/conversations", CreateConversationRequest{
		Type: models.ConversationPrivate, Participants: []string{"ghost"},
	}), alice))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateGroupConversationRequiresName(t *testing.T) {
	h, db := fixture(t)
	alice := registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	w := httptest.NewRecorder()
	h.CreateConversation(w, asUser(postJSON(t, "/api/conversations", CreateConversationRequest{
		Type: models.ConversationGroup, Participants: []string{"bob"},
	}), alice))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.CreateConversation(w, asUser(postJSON(t, "/api/conversations", CreateConversationRequest{
		Type: models.ConversationGroup, Name: "team", Participants: []string{"bob"},
	}), alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
}

func TestGetMessagesRequiresMembership(t *testing.T) {
	h, db := fixture(t)
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")
	carol := registerUser(t, db, "carol")

	conv, err := db.CreateConversation(context.Background(), models.ConversationPrivate, "", []string{"alice", "bob"})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID.String()+"/messages", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", conv.ID.String())
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.GetMessages(w, asUser(r, carol))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	h, db := fixture(t)
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp StatsResponse
	decode(t, w, &resp)
	if resp.TotalUsers != 2 {
		t.Fatalf("expected 2 users, got %d", resp.TotalUsers)
	}
}

func TestHealth(t *testing.T) {
	h, _ := fixture(t)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
	if resp.Checks["database"].Status != "pass" {
		t.Fatalf("expected database pass, got %+v", resp.Checks)
	}
}

func TestCallHistoryScopedToCaller(t *testing.T) {
	h, db := fixture(t)
	alice := registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	db.SaveCallRecord(context.Background(), &models.CallRecord{Caller: "alice", Receiver: "bob", Status: models.CallAnswered})
	db.SaveCallRecord(context.Background(), &models.CallRecord{Caller: "bob", Receiver: "carol", Status: models.CallMissed})

	w := httptest.NewRecorder()
	h.CallHistory(w, asUser(httptest.NewRequest(http.MethodGet, "/api/calls", nil), alice))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Calls []models.CallRecord `json:"calls"`
	}
	decode(t, w, &resp)
	if len(resp.Calls) != 1 || resp.Calls[0].Receiver != "bob" {
		t.Fatalf("expected only alice's call, got %+v", resp.Calls)
	}
}
