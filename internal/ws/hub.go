// Package ws streams session output to websocket clients and routes
// their input back into the session.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// MessageType tags a websocket frame.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeInput  MessageType = "input"
	MessageTypeSignal MessageType = "signal"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeAnsi          MessageType = "ansi"
	MessageTypePayloadExited MessageType = "payload-exited"
	MessageTypeHostExited    MessageType = "host-exited"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Message is one websocket frame. Data carries ANSI bytes or input text,
// Seq the chunk sequence number, Code an exit code.
type Message struct {
	Type  MessageType `json:"type"`
	Data  string      `json:"data,omitempty"`
	Seq   uint64      `json:"seq,omitempty"`
	Code  *int        `json:"code,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Client is one websocket connection bound to a session hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewClient wraps a raw connection for the hub.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

// Send queues a frame for delivery. A client that cannot keep up is
// dropped rather than allowed to stall the broadcast path.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// Close closes the client's send side.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// SessionID returns the session this client watches.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn returns the underlying websocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the outbound frame queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub fans session events out to every connected client of one session.
type Hub struct {
	sessionID string
	mu        sync.RWMutex
	clients   map[*Client]bool
	onMessage func(client *Client, msg *Message)
}

// NewHub creates an empty hub for a session.
func NewHub(sessionID string) *Hub {
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
	}
}

// SessionID returns the session this hub serves.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// SetOnMessage installs the inbound frame handler.
func (h *Hub) SetOnMessage(fn func(client *Client, msg *Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.Close()
}

// Broadcast sends raw bytes to every client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastMessage marshals and sends a frame to every client.
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// HandleMessage routes an inbound frame to the installed handler.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn != nil {
		fn(client, msg)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager owns one hub per session.
type HubManager struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewHubManager creates an empty manager.
func NewHubManager() *HubManager {
	return &HubManager{hubs: make(map[string]*Hub)}
}

// GetOrCreate returns the session's hub, creating it on first use.
func (m *HubManager) GetOrCreate(sessionID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hub, ok := m.hubs[sessionID]; ok {
		return hub
	}
	hub := NewHub(sessionID)
	m.hubs[sessionID] = hub
	return hub
}

// Get returns the session's hub or nil.
func (m *HubManager) Get(sessionID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionID]
}

// Remove closes and drops the session's hub.
func (m *HubManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hub, ok := m.hubs[sessionID]; ok {
		hub.Close()
		delete(m.hubs, sessionID)
	}
}

// Close closes every hub.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
