package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/parley/internal/logging"
)

const writeWait = 10 * time.Second

// Client is an authenticated WebSocket connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Method      string
	ConnectedAt time.Time

	socket *websocket.Conn
	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient wraps conn after a successful handshake.
func NewClient(conn *websocket.Conn, info ClientInfo, method string, log *logging.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		ConnID:      id,
		Info:        info,
		Method:      method,
		ConnectedAt: time.Now(),
		socket:      conn,
		log:         log.With("connId", id),
	}
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(frame)
}

// SendEvent pushes a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends a failed response for reqID.
func (c *Client) RespondError(reqID string, e ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, e))
}

// ReadFrame blocks for the next frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}

// ClientRegistry tracks live connections.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("clients", n).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Int("clients", n).Msg("client disconnected")
}

// Count returns the number of live connections.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast pushes an event to every connection. Send failures are logged;
// the read loop notices dead sockets on its own.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) {
	frame, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			r.log.Debug().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
