package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edupulse/event-pipeline/internal/auth"
	"github.com/edupulse/event-pipeline/internal/config"
	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/metrics"
	"github.com/edupulse/event-pipeline/internal/middleware"
	"github.com/edupulse/event-pipeline/internal/repository"
	"github.com/edupulse/event-pipeline/internal/router"
)

// Close codes sent before handing the connection back.
const (
	closeUnauthorized   = 4001
	closeTooManyConns   = 4002
	closeAtCapacity     = 4003
	closeConfigTimedOut = 4004
)

// EventRouter is the routing surface the WebSocket handlers depend on.
type EventRouter interface {
	Subscribe(conn router.Conn, filter events.Filter) (id string, ok bool)
	Unsubscribe(id string)
	UpdateFilter(id string, filter events.Filter) bool
	Publish(ev events.Event) bool
}

// Handler serves the /ws/subscribe and /ws/publish endpoints.
type Handler struct {
	upgrader websocket.Upgrader
	router   EventRouter
	repo     repository.EventRepositoryInterface
	validate *events.Validator
	tokens   *auth.TokenService
	limiter  *ConnLimiter
	cfg      config.WSConfig
	apiKey   string
	reqAuth  bool
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler. tokens may be nil when
// stream tokens are not configured.
func NewHandler(rt EventRouter, repo repository.EventRepositoryInterface, validate *events.Validator, tokens *auth.TokenService, cfg config.WSConfig, authCfg config.AuthConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin from quiz pages;
			// access control is the API key / stream token check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		router:   rt,
		repo:     repo,
		validate: validate,
		tokens:   tokens,
		limiter:  NewConnLimiter(cfg.MaxConnsPerIP),
		cfg:      cfg,
		apiKey:   authCfg.APIKey,
		reqAuth:  authCfg.RequireAuth,
		logger:   logger,
	}
}

// subscribeConfig is the first message a subscriber sends: its filter.
type subscribeConfig struct {
	EventTypes []string `json:"event_types"`
	SessionID  string   `json:"session_id"`
	UserID     string   `json:"user_id"`
}

// clientMessage is a control message from a connected subscriber.
type clientMessage struct {
	Type    string        `json:"type"`
	Filters *events.Filter `json:"filters"`
}

// Subscribe handles GET /ws/subscribe. The client must send its filter
// configuration as the first message; after the subscribed ack, matching
// events are pushed as JSON text frames.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	authorized := h.authorize(r)
	ip := middleware.ClientIP(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(conn)
	defer c.Close()

	if !authorized {
		metrics.WSMessagesRejected.WithLabelValues("unauthorized").Inc()
		c.writeClose(closeUnauthorized, "Unauthorized")
		return
	}
	if !h.limiter.TryConnect(ip) {
		metrics.WSMessagesRejected.WithLabelValues("conn_limit").Inc()
		c.writeClose(closeTooManyConns, "Too many connections")
		return
	}
	defer h.limiter.Disconnect(ip)

	metrics.WSConnectionsActive.WithLabelValues("subscribe").Inc()
	defer metrics.WSConnectionsActive.WithLabelValues("subscribe").Dec()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	// First message: subscription config.
	conn.SetReadDeadline(time.Now().Add(h.cfg.SubscribeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.logger.Info("subscriber timed out waiting for config",
			slog.String("remote_ip", ip))
		c.writeClose(closeConfigTimedOut, "Timed out waiting for config")
		return
	}
	conn.SetReadDeadline(time.Time{})

	var sc subscribeConfig
	if err := json.Unmarshal(raw, &sc); err != nil {
		metrics.WSMessagesRejected.WithLabelValues("invalid_json").Inc()
		c.writeJSON(map[string]string{"status": "error", "message": "Invalid JSON"})
		return
	}
	filter := events.Filter{
		EventTypes: sc.EventTypes,
		SessionID:  sc.SessionID,
		UserID:     sc.UserID,
	}

	id, ok := h.router.Subscribe(c, filter)
	if !ok {
		metrics.WSMessagesRejected.WithLabelValues("capacity").Inc()
		c.writeJSON(map[string]string{"status": "error", "message": "Server at subscriber capacity"})
		c.writeClose(closeAtCapacity, "Server at subscriber capacity")
		return
	}
	defer h.router.Unsubscribe(id)

	c.writeJSON(map[string]interface{}{
		"status":        "subscribed",
		"subscriber_id": id,
		"filters":       filter,
	})
	h.logger.Info("subscriber connected",
		slog.String("subscriber_id", id),
		slog.String("remote_ip", ip))

	// Keepalive frames on an idle connection double as liveness probes:
	// a dead peer surfaces as a write error on the next tick.
	done := make(chan struct{})
	defer close(done)
	go h.keepAliveLoop(c, id, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("subscriber disconnected",
				slog.String("subscriber_id", id))
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			c.writeJSON(map[string]string{"type": "pong"})
		case "update_filters":
			var f events.Filter
			if msg.Filters != nil {
				f = *msg.Filters
			}
			if h.router.UpdateFilter(id, f) {
				c.writeJSON(map[string]interface{}{
					"status":  "filters_updated",
					"filters": f,
				})
			}
		}
	}
}

func (h *Handler) keepAliveLoop(c *wsConn, id string, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.KeepAliveTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeJSON(map[string]string{"type": "keepalive"}); err != nil {
				h.logger.Info("keepalive failed, dropping subscriber",
					slog.String("subscriber_id", id))
				c.Close()
				return
			}
		}
	}
}

// publishAck is the per-message reply on the publish endpoint.
type publishAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Publish handles GET /ws/publish: a long-lived connection where each
// text frame is one event. Every frame gets an ok or error reply.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	authorized := h.authorize(r)
	ip := middleware.ClientIP(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(conn)
	defer c.Close()

	if !authorized {
		metrics.WSMessagesRejected.WithLabelValues("unauthorized").Inc()
		c.writeClose(closeUnauthorized, "Unauthorized")
		return
	}
	if !h.limiter.TryConnect(ip) {
		metrics.WSMessagesRejected.WithLabelValues("conn_limit").Inc()
		c.writeClose(closeTooManyConns, "Too many connections")
		return
	}
	defer h.limiter.Disconnect(ip)

	metrics.WSConnectionsActive.WithLabelValues("publish").Inc()
	defer metrics.WSConnectionsActive.WithLabelValues("publish").Dec()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	ctx := r.Context()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req events.PublishRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			metrics.WSMessagesRejected.WithLabelValues("invalid_json").Inc()
			c.writeJSON(publishAck{Status: "error", Message: "Invalid JSON"})
			continue
		}

		if errs := h.validate.ValidatePublish(req); len(errs) > 0 {
			metrics.WSMessagesRejected.WithLabelValues("validation").Inc()
			c.writeJSON(publishAck{Status: "error", Message: errs[0]})
			continue
		}

		ev := req.ToEvent()
		if err := h.repo.Insert(ctx, ev); err != nil {
			h.logger.Error("websocket publish failed to persist event",
				slog.String("event_id", ev.ID), slog.Any("error", err))
			c.writeJSON(publishAck{Status: "error", Message: "Internal error"})
			continue
		}

		if !h.router.Publish(ev) {
			h.logger.Warn("queue full, event persisted but not routed live",
				slog.String("event_id", ev.ID))
		}

		c.writeJSON(publishAck{Status: "ok", EventID: ev.ID})
	}
}

// authorize validates the API key (query param or header) or, for
// browser subscribers, a stream token.
func (h *Handler) authorize(r *http.Request) bool {
	if !h.reqAuth {
		return true
	}

	key := r.URL.Query().Get("api_key")
	if key == "" {
		key = r.Header.Get(middleware.APIKeyHeader)
	}
	if key != "" && auth.VerifyAPIKey(key, h.apiKey) == nil {
		return true
	}

	if h.tokens != nil {
		token := r.URL.Query().Get("token")
		if token != "" {
			if _, err := h.tokens.ValidateStreamToken(token); err == nil {
				return true
			}
		}
	}

	return false
}
