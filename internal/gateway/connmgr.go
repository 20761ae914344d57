package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lhdbsbz/citychat/internal/message"
	"golang.org/x/time/rate"
)

// Request frames a connection may send per second after the handshake.
const (
	wsFrameRate  = 5
	wsFrameBurst = 20
)

// Conn represents a single WebSocket connection. Each connection keeps its
// own transcript and conversation.
type Conn struct {
	ID          string
	UID         string
	Client      string
	Narrow      bool
	WS          *websocket.Conn
	ConnectedAt time.Time
	writeMu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool
	frames *rate.Limiter

	mu             sync.Mutex
	transcript     *message.Transcript
	conversationID string
}

func newConn(id string, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:          id,
		WS:          ws,
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		frames:      rate.NewLimiter(rate.Limit(wsFrameRate), wsFrameBurst),
		transcript:  message.NewTranscript(),
	}
}

// Send writes a frame to the WebSocket connection (thread-safe).
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WS.WriteJSON(frame)
}

func (c *Conn) state() (*message.Transcript, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript, c.conversationID
}

// captureConversation keeps the first conversation id seen for tr.
func (c *Conn) captureConversation(tr *message.Transcript, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" && c.conversationID == "" && c.transcript == tr {
		c.conversationID = id
	}
}

func (c *Conn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = message.NewTranscript()
	c.conversationID = ""
}

// ConnManager tracks all active WebSocket connections.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID → conn
	seq   int
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

// Remove unregisters a connection and cancels its running exchange.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	conn := m.conns[connID]
	delete(m.conns, connID)
	m.mu.Unlock()
	if conn != nil {
		conn.cancel()
	}
}

// Get returns a connection by ID.
func (m *ConnManager) Get(connID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[connID]
}

// Count returns the number of open connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Broadcast sends an event to all connections.
func (m *ConnManager) Broadcast(event string, payload any) {
	m.mu.Lock()
	m.seq++
	frame := EventFrame(event, m.seq, payload)
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			slog.Warn("broadcast failed", "conn", conn.ID, "error", err)
		}
	}
}

// CloseAll cancels every exchange and closes every socket.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		c.WS.Close()
	}
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
