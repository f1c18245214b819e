package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/creastat/relay/queue"
	"github.com/creastat/relay/session"
	"github.com/creastat/relay/stream"
)

// StoreStatus reports shared store health.
type StoreStatus interface {
	IsConnected() bool
	Info(ctx context.Context) map[string]any
}

// DebugConfig guards the debug routes. An empty password leaves them open.
type DebugConfig struct {
	Enabled  bool
	Username string
	Password string
}

type DebugHandler struct {
	cfg      DebugConfig
	registry *session.Registry
	queue    *queue.Policy
	conns    *stream.Connections
	store    StoreStatus
	logger   *slog.Logger
}

func NewDebugHandler(log *slog.Logger, cfg DebugConfig, registry *session.Registry, q *queue.Policy, conns *stream.Connections, store StoreStatus) *DebugHandler {
	return &DebugHandler{
		cfg:      cfg,
		registry: registry,
		queue:    q,
		conns:    conns,
		store:    store,
		logger:   log.With(slog.String("handler", "debug")),
	}
}

func (h *DebugHandler) Register(e *echo.Echo) {
	if !h.cfg.Enabled {
		return
	}
	var mw []echo.MiddlewareFunc
	if h.cfg.Password != "" {
		mw = append(mw, middleware.BasicAuth(h.authorize))
	}
	e.GET("/debug/sessions", h.Sessions, mw...)
	e.GET("/api/debug/redis-keys", h.RedisKeys, mw...)
}

func (h *DebugHandler) authorize(username, password string, _ echo.Context) (bool, error) {
	userOK := h.cfg.Username == "" || subtle.ConstantTimeCompare([]byte(username), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.cfg.Password)) == 1
	return userOK && passOK, nil
}

func (h *DebugHandler) Sessions(c echo.Context) error {
	ctx := c.Request().Context()
	queued, err := h.queue.Sessions(ctx)
	if err != nil {
		h.logger.Warn("list queues failed", slog.Any("error", err))
	}
	if queued == nil {
		queued = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"browser_session_mapping": h.registry.Snapshot(),
		"webhook_messages_keys":   queued,
		"active_connections":      h.conns.Snapshot(),
		"redis_connected":         h.store != nil && h.store.IsConnected(),
		"mode":                    h.registry.Mode(),
	})
}

func (h *DebugHandler) RedisKeys(c echo.Context) error {
	if h.store == nil || !h.store.IsConnected() {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "Redis not connected"})
	}
	keys, err := h.queue.SharedKeys(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

type HealthHandler struct {
	store StoreStatus
	now   func() time.Time
}

func NewHealthHandler(store StoreStatus) *HealthHandler {
	return &HealthHandler{store: store, now: time.Now}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *HealthHandler) Health(c echo.Context) error {
	redis := map[string]any{"connected": false}
	if h.store != nil {
		redis = h.store.Info(c.Request().Context())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"redis":     redis,
	})
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
