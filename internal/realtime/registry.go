package realtime

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const registryShards = 16

const presenceTimeout = 5 * time.Second

// PresenceReporter receives best-effort online/offline updates. Failures are
// logged and never surfaced to registry callers.
type PresenceReporter interface {
	SetUserPresence(ctx context.Context, username string, online bool, lastSeen time.Time) error
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Registry maps usernames to their live connection. At most one connection is
// addressable per username; a new registration supersedes the previous one
// without closing it. The map is sharded so unrelated users never contend on
// the same lock.
type Registry struct {
	shards   [registryShards]*registryShard
	presence PresenceReporter
	logger   zerolog.Logger
}

// NewRegistry creates a registry. presence may be nil.
func NewRegistry(presence PresenceReporter, logger zerolog.Logger) *Registry {
	r := &Registry{
		presence: presence,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]Conn)}
	}
	return r
}

func (r *Registry) shard(username string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(username))
	return r.shards[h.Sum32()%registryShards]
}

// Register makes conn the addressable connection for username, replacing any
// prior mapping. Idempotent; last registration wins.
func (r *Registry) Register(username string, conn Conn) {
	s := r.shard(username)
	s.mu.Lock()
	prev, had := s.conns[username]
	s.conns[username] = conn
	s.mu.Unlock()

	if had && prev.ID() != conn.ID() {
		r.logger.Info().Str("username", username).Msg("session superseded by new connection")
	}
	r.reportPresence(username, true)
}

// Unregister removes the mapping for username only if connectionID still
// matches the recorded connection. A stale disconnect from a superseded
// session is a no-op. Reports whether the mapping was removed.
func (r *Registry) Unregister(username, connectionID string) bool {
	s := r.shard(username)
	s.mu.Lock()
	conn, ok := s.conns[username]
	if !ok || conn.ID() != connectionID {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, username)
	s.mu.Unlock()

	r.reportPresence(username, false)
	return true
}

// Resolve returns the live connection for username, if any.
func (r *Registry) Resolve(username string) (Conn, bool) {
	s := r.shard(username)
	s.mu.RLock()
	conn, ok := s.conns[username]
	s.mu.RUnlock()
	return conn, ok
}

// reportPresence pushes the presence change without holding any shard lock
// and without letting a slow or failing reporter affect the caller.
func (r *Registry) reportPresence(username string, online bool) {
	if r.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := r.presence.SetUserPresence(ctx, username, online, time.Now().UTC()); err != nil {
			r.logger.Warn().Err(err).Str("username", username).Bool("online", online).
				Msg("presence update failed")
		}
	}()
}
