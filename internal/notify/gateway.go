package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/types"
)

// Authenticator verifies the inbound HTTP request before the connection is
// upgraded to WebSocket and returns the account it belongs to.
type Authenticator interface {
	Authenticate(r *http.Request) (types.AccountID, error)
}

// AuthFunc is an adapter to allow the use of ordinary functions as
// authenticators.
type AuthFunc func(r *http.Request) (types.AccountID, error)

// Authenticate implements Authenticator.
func (f AuthFunc) Authenticate(r *http.Request) (types.AccountID, error) {
	return f(r)
}

// Presence is told when accounts connect and disconnect so gifting and
// similar operations can tell whether a push will reach anyone.
type Presence interface {
	Heartbeat(ctx context.Context, accountID types.AccountID)
	Offline(ctx context.Context, accountID types.AccountID)
}

var hubConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "notify",
	Name:      "connections",
	Help:      "Active notification WebSocket connections.",
})

func init() {
	prometheus.MustRegister(hubConnections)
}

type hubConn struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks the notification sockets connected to this instance, keyed by
// account.
type Hub struct {
	mu    sync.RWMutex
	conns map[types.AccountID]map[*hubConn]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[types.AccountID]map[*hubConn]struct{})}
}

// Send enqueues a payload for every local connection of the account. Slow
// consumers are collected under the read lock and dropped afterwards; map
// mutation only ever happens under the write lock.
func (h *Hub) Send(accountID types.AccountID, payload []byte) {
	h.mu.RLock()
	var stalled []*hubConn
	for c := range h.conns[accountID] {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.drop(accountID, c)
	}
}

// drop tears down a stalled connection. Membership is rechecked under the
// write lock so concurrent sends cannot double-close the channel; the write
// pump notices the closed channel and shuts the socket down.
func (h *Hub) drop(accountID types.AccountID, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[accountID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, accountID)
	}
	hubConnections.Dec()
	close(c.send)
}

func (h *Hub) register(accountID types.AccountID, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[accountID] == nil {
		h.conns[accountID] = make(map[*hubConn]struct{})
	}
	h.conns[accountID][c] = struct{}{}
	hubConnections.Inc()
}

func (h *Hub) unregister(accountID types.AccountID, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[accountID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			hubConnections.Dec()
		}
		if len(set) == 0 {
			delete(h.conns, accountID)
		}
	}
}

// GatewayConfig controls the runtime behaviour of the notification gateway.
type GatewayConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
}

// Gateway upgrades HTTP requests into notification WebSocket connections and
// wires them into the Hub.
type Gateway struct {
	auth     Authenticator
	hub      *Hub
	presence Presence
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	cfg      GatewayConfig
}

// NewGateway creates a Gateway with sane defaults.
func NewGateway(auth Authenticator, hub *Hub, presence Presence, logger zerolog.Logger, cfg GatewayConfig) (*Gateway, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	return &Gateway{
		auth:     auth,
		hub:      hub,
		presence: presence,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cfg: cfg,
	}, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	accountID, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if accountID == "" {
		http.Error(w, "missing account identity", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &hubConn{conn: conn, send: make(chan []byte, g.cfg.SendBuffer)}
	g.hub.register(accountID, c)

	childLogger := g.logger.With().Str("account", string(accountID)).Logger()
	childLogger.Info().Msg("notification connection established")

	go g.writePump(accountID, c, childLogger)
	go g.readPump(accountID, c, childLogger)
}

func (g *Gateway) writePump(accountID types.AccountID, c *hubConn, logger zerolog.Logger) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "send queue overflow"), time.Now().Add(g.cfg.WriteTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug().Err(err).Msg("notification write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if g.presence != nil {
				g.presence.Heartbeat(context.Background(), accountID)
			}
		}
	}
}

func (g *Gateway) readPump(accountID types.AccountID, c *hubConn, logger zerolog.Logger) {
	defer func() {
		g.hub.unregister(accountID, c)
		c.conn.Close()
		if g.presence != nil {
			g.presence.Offline(context.Background(), accountID)
		}
		logger.Info().Msg("notification connection closed")
	}()

	if g.presence != nil {
		g.presence.Heartbeat(context.Background(), accountID)
	}

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatInterval * 2))
	})

	// Clients only listen on this socket; inbound frames are drained for
	// control handling.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
