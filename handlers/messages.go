package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/creastat/relay"
	"github.com/creastat/relay/queue"
)

type MessagesHandler struct {
	queue  *queue.Policy
	logger *slog.Logger
}

func NewMessagesHandler(log *slog.Logger, q *queue.Policy) *MessagesHandler {
	return &MessagesHandler{
		queue:  q,
		logger: log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.GET("/api/get-messages/:session_id", h.List)
	e.DELETE("/api/messages/:session_id", h.Clear)
}

// List returns pending messages without removing them.
func (h *MessagesHandler) List(c echo.Context) error {
	sessionID := c.Param("session_id")
	batch, err := h.queue.Peek(c.Request().Context(), sessionID)
	if err != nil {
		h.logger.Error("get messages failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"success":  false,
			"error":    err.Error(),
			"messages": []relay.Message{},
		})
	}
	messages := batch.Messages
	if messages == nil {
		messages = []relay.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *MessagesHandler) Clear(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := h.queue.Clear(c.Request().Context(), sessionID); err != nil {
		h.logger.Error("clear messages failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "Failed to clear messages",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Messages cleared",
	})
}
