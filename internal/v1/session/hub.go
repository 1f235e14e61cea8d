package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/auth"
	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/metrics"
	"github.com/telemeet/sfu/internal/v1/ratelimit"
	"github.com/telemeet/sfu/internal/v1/signaling"
)

// Hub admits signaling connections: rate limit, origin check, WebSocket
// upgrade, then hands the connection to a Client and its pumps. It tracks
// live clients so shutdown can close them all.
type Hub struct {
	handler        *signaling.Handler
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates a Hub bound to the signaling handler.
func NewHub(handler *signaling.Handler, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		handler:        handler,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return auth.ValidateOrigin(r, h.allowedOrigins) == nil
		},
	}
	return h
}

// ServeWs is the gin handler for the signaling endpoint.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	if err := auth.ValidateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection wraps an established WebSocket connection in a Client and
// starts its pumps. Split out from ServeWs so tests can drive mock
// connections through the full read/dispatch path.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := newClient(conn, h.handler, h.dropClient)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(context.Background(), "Signaling connection established",
		zap.String("connectionId", client.sess.ConnectionID))

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Shutdown disconnects every live client. Each disconnect runs the normal
// cleanup cascade through the client's readPump exit path.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	logging.Info(ctx, "Shutting down Hub - closing all signaling connections",
		zap.Int("count", len(clients)))

	for _, c := range clients {
		c.Disconnect()
	}
	return nil
}
