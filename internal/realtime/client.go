package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/crypto"
	"github.com/mhelail/real-time-communication-platform/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 16 * 1024
	sendQueueSize  = 256
)

// ErrSendQueueFull is returned when a connection's outbound queue is full;
// the frame is dropped rather than blocking the sender.
var ErrSendQueueFull = errors.New("realtime: send queue full")

// Client adapts a gorilla websocket connection to the Conn interface and runs
// its read/write pumps. One goroutine per direction; all outbound writes go
// through the buffered send channel.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	logger zerolog.Logger
}

// NewClient wraps an established websocket connection.
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		logger: logger.With().Str("component", "client").Str("conn", id).Logger(),
	}
}

// ID returns the opaque connection handle.
func (c *Client) ID() string {
	return c.id
}

// Send queues an event frame for the write pump. Never blocks: if the peer
// cannot keep up the frame is dropped and an error returned.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("realtime: connection closed")
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

// readPump feeds inbound frames to the hub until the connection dies, then
// releases everything the session held.
func (c *Client) readPump(hub *Hub, session *Session) {
	defer func() {
		hub.Disconnected(session)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		hub.Dispatch(ctx, session, raw)
		cancel()
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS returns the HTTP handler that authenticates and upgrades realtime
// connections. The client presents its login token as a query parameter; the
// token subject becomes the session's authenticated identity, which every
// later event is checked against.
func ServeWS(hub *Hub, jwtSecret string, allowedOrigins []string, logger zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		username, err := crypto.VerifyToken(jwtSecret, token)
		if err != nil {
			http.Error(w, `{"error":"invalid or missing token"}`, http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := NewClient(conn, logger)
		session := &Session{Conn: client, Auth: username}

		metrics.ConnectionsActive.Inc()
		logger.Info().Str("username", username).Str("conn", client.ID()).Msg("connection established")

		go client.writePump()
		go func() {
			client.readPump(hub, session)
			metrics.ConnectionsActive.Dec()
			logger.Info().Str("username", username).Str("conn", client.ID()).Msg("connection closed")
		}()
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		return allowed[origin]
	}
}
