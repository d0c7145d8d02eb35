package realtime

// Conn is one live client connection the realtime layer can write to.
// The websocket client implements it; tests substitute in-memory fakes.
type Conn interface {
	// ID returns an opaque handle unique to this connection. A user who
	// reconnects gets a new ID; the registry uses it to tell a stale
	// disconnect apart from a live session.
	ID() string

	// Send queues an event for delivery. It must be safe for concurrent use
	// and must not block on a slow peer; delivery is best-effort.
	Send(event string, payload any) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Session is the binding of an authenticated username to a connection.
// Auth is fixed at handshake time; Username is empty until the client
// announces itself with setUsername.
type Session struct {
	Conn     Conn
	Auth     string
	Username string
}
