package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/correlation"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
)

const maxMessageSize = 4096

// Registry is the part of realtime.Manager the handler drives.
type Registry interface {
	Register(ctx context.Context, conn realtime.Conn, identity domain.Identity) (*realtime.Connection, error)
	Unregister(connID string)
	HandleEvent(ctx context.Context, connID string, ev realtime.ClientEvent) error
	RecordHeartbeat(connID string, latency time.Duration)
}

type HandlerConfig struct {
	CheckOrigin func(r *http.Request) bool
	// AllowQueryIdentity accepts identity from query parameters (development only).
	AllowQueryIdentity bool
	PongTimeout        time.Duration
}

// Handler upgrades GET requests to WebSocket connections and runs their read loop.
type Handler struct {
	registry Registry
	limiter  *HandshakeLimiter
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(registry Registry, limiter *HandshakeLimiter, clock clockwork.Clock, m *metrics.WebSocketMetrics, cfg HandlerConfig) *Handler {
	return &Handler{
		registry: registry,
		limiter:  limiter,
		clock:    clock,
		metrics:  m,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		h.metrics.HandshakeRejections.WithLabelValues("rate_limit").Inc()
		slog.WarnContext(r.Context(), "WebSocket handshake rate limited", "remote_ip", ip)
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	identity := IdentityFromRequest(r, h.cfg.AllowQueryIdentity)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.metrics.HandshakeRejections.WithLabelValues("upgrade").Inc()
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	// Hijacked: the request context says nothing about the connection's lifetime.
	ctx := correlation.WithID(context.WithoutCancel(r.Context()), correlation.NewID())

	// The writer runs before Register so the mailbox replay drains while it is queued.
	var connID atomic.Pointer[string]
	transport := NewTransport(conn, h.clock, h.metrics, h.cfg.PongTimeout)
	transport.Start(func(latency time.Duration) {
		if id := connID.Load(); id != nil {
			h.registry.RecordHeartbeat(*id, latency)
		}
	})

	c, err := h.registry.Register(ctx, transport, identity)
	if err != nil {
		// Register closed the transport.
		return
	}
	connID.Store(&c.ID)
	ctx = correlation.WithConnection(ctx, c.ID, c.Identity.UserID)

	h.readLoop(ctx, conn, transport, c.ID)

	h.registry.Unregister(c.ID)
	transport.stop()
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, transport *Transport, connID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "WebSocket read failed", "error", err)
			}
			return
		}

		var ev realtime.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			_ = transport.Send(realtime.Message{
				Type:      "error",
				Data:      map[string]string{"message": "Malformed event"},
				Timestamp: h.clock.Now().UTC(),
			})
			continue
		}

		if err := h.registry.HandleEvent(ctx, connID, ev); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return
			}
			slog.DebugContext(ctx, "Client event failed", "type", ev.Type, "error", err)
		}
	}
}
