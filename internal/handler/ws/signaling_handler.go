package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// Gateway consumes the lifecycle and inbound frames of signaling connections
type Gateway interface {
	Connect(ctx context.Context, connID string, userID uuid.UUID) error
	Disconnect(ctx context.Context, connID string)
	Handle(ctx context.Context, connID string, raw []byte)
}

// Options tunes the websocket transport
type Options struct {
	MaxConnections int
	SendBufferSize int
	PingInterval   time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// SignalingHub owns live websocket connections and writes frames to them
type SignalingHub struct {
	opts    Options
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*SignalingClient

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
	upgrader  websocket.Upgrader
}

// SignalingClient is one websocket connection
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	id     string
	userID uuid.UUID

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(opts Options, m *metrics.Metrics) *SignalingHub {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1000
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}

	h := &SignalingHub{
		opts:      opts,
		metrics:   m,
		clients:   make(map[string]*SignalingClient),
		semaphore: make(chan struct{}, opts.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *SignalingHub) checkOrigin(r *http.Request) bool {
	if lo.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// native clients send no origin
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, origin)
}

// Send queues frame on connID without blocking. A connection whose buffer is
// full is closed and reported as failed.
func (h *SignalingHub) Send(connID string, frame []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if client.enqueue(frame) {
		return true
	}
	logger.Warn("Closing slow signaling connection",
		zap.String("connection_id", connID),
		zap.String("user_id", client.userID.String()))
	return false
}

// Len returns the number of open connections
func (h *SignalingHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection; their read loops then disconnect them
func (h *SignalingHub) CloseAll() {
	h.mu.RLock()
	clients := lo.Values(h.clients)
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *SignalingHub) add(c *SignalingClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebSocketConnections(count)
}

func (h *SignalingHub) remove(c *SignalingClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.metrics.SetWebSocketConnections(count)
}

// SignalingHandler upgrades authenticated requests and feeds them to the gateway
type SignalingHandler struct {
	hub     *SignalingHub
	gateway Gateway
}

// NewSignalingHandler creates a new signaling handler
func NewSignalingHandler(hub *SignalingHub, gateway Gateway) *SignalingHandler {
	return &SignalingHandler{hub: hub, gateway: gateway}
}

// ServeWS handles WebSocket requests for signaling
func (s *SignalingHandler) ServeWS(c *gin.Context) {
	h := s.hub

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		h.metrics.RecordWebSocketRejected("unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.opts.MaxConnections))
		h.metrics.RecordWebSocketRejected("capacity")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		h.metrics.RecordWebSocketRejected("upgrade")
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, h.opts.SendBufferSize),
	}
	ctx := logger.WithConnectionID(context.Background(), client.id)

	h.add(client)
	if err := s.gateway.Connect(ctx, client.id, userID); err != nil {
		logger.FromContext(ctx).Warn("Failed to register signaling connection", zap.Error(err))
		h.remove(client)
		conn.Close()
		<-h.semaphore
		return
	}

	go client.writePump()
	go client.readPump(ctx, s.gateway)
}

func (c *SignalingClient) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *SignalingClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump feeds inbound frames to the gateway in arrival order
func (c *SignalingClient) readPump(ctx context.Context, gateway Gateway) {
	defer func() {
		c.hub.remove(c)
		gateway.Disconnect(ctx, c.id)
		c.conn.Close()
		<-c.hub.semaphore
	}()

	if c.hub.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.FromContext(ctx).Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		gateway.Handle(ctx, c.id, message)
	}
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	wait := c.hub.opts.WriteWait
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
