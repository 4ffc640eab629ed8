package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/heartbeat"
)

const (
	FrameMessage  = "message"
	FrameDecision = "decision"
	FrameReply    = "reply"
	FrameError    = "error"

	componentName = "connector:bridge"
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	sendBuffer    = 64
	maxFrameBytes = 64 << 10
)

var (
	ErrNoClient   = errors.New("no bridge client for group")
	ErrClientSlow = errors.New("bridge client send buffer full")
)

// Frame is the JSON envelope exchanged with platform adapters.
type Frame struct {
	Type     string         `json:"type"`
	Message  *chat.Message  `json:"message,omitempty"`
	Decision *chat.Decision `json:"decision,omitempty"`
	Reply    *chat.Reply    `json:"reply,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type MessageHandler interface {
	OnMessage(ctx context.Context, msg chat.Message) chat.Decision
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// enqueue hands payload to the write pump without blocking.
func (c *client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoClient
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrClientSlow
	}
}

// Hub accepts adapter connections. Adapters stream inbound messages and get
// back reply intents for the groups they delivered.
type Hub struct {
	handler  MessageHandler
	reporter heartbeat.Reporter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	ctx     context.Context
	clients map[*client]struct{}
	groups  map[string]*client
}

func NewHub(handler MessageHandler, reporter heartbeat.Reporter, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		handler:  handler,
		reporter: reporter,
		logger:   logger.With("component", "bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:     context.Background(),
		clients: map[*client]struct{}{},
		groups:  map[string]*client{},
	}
}

func (h *Hub) Name() string {
	return "bridge"
}

// Start keeps the hub open until ctx is done, then disconnects every client.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	if h.reporter != nil {
		h.reporter.Beat(componentName, "accepting adapters")
	}
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		_ = c.conn.Close()
	}
	h.clients = map[*client]struct{}{}
	h.groups = map[string]*client{}
	h.mu.Unlock()
	if h.reporter != nil {
		h.reporter.Stopped(componentName, "stopped")
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one adapter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("bridge upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	ctx := h.ctx
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("adapter connected", "remote_addr", r.RemoteAddr, "clients", count)
	if h.reporter != nil {
		h.reporter.Beat(componentName, "adapter connected")
	}

	go h.writePump(c)
	h.readPump(ctx, c)
}

// Send routes reply to the adapter that last delivered a message for its
// group.
func (h *Hub) Send(_ context.Context, reply chat.Reply) error {
	h.mu.RLock()
	c, ok := h.groups[strings.TrimSpace(reply.GroupID)]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrNoClient, reply.GroupID)
	}
	return h.push(c, Frame{Type: FrameReply, Reply: &reply})
}

func (h *Hub) push(c *client, frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode bridge frame: %w", err)
	}
	return c.enqueue(payload)
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("adapter read failed", "error", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = h.push(c, Frame{Type: FrameError, Error: "invalid frame: " + err.Error()})
			continue
		}
		if frame.Type != FrameMessage || frame.Message == nil {
			_ = h.push(c, Frame{Type: FrameError, Error: "unsupported frame type " + frame.Type})
			continue
		}
		msg := *frame.Message
		if groupID := strings.TrimSpace(msg.GroupID); groupID != "" {
			h.mu.Lock()
			h.groups[groupID] = c
			h.mu.Unlock()
		}
		decision := h.handler.OnMessage(ctx, msg)
		if err := h.push(c, Frame{Type: FrameDecision, Decision: &decision}); err != nil {
			h.logger.Warn("decision frame dropped", "group_id", decision.GroupID, "error", err)
		}
		if h.reporter != nil {
			h.reporter.Beat(componentName, "message received")
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	for groupID, owner := range h.groups {
		if owner == c {
			delete(h.groups, groupID)
		}
	}
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Info("adapter disconnected", "clients", count)
}
