package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/creastat/relay"
	"github.com/creastat/relay/webhook"
)

const DefaultWebhookBodyLimit = "1M"

type WebhookHandler struct {
	service   *webhook.Service
	bodyLimit string
	logger    *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, service *webhook.Service, bodyLimit string) *WebhookHandler {
	if bodyLimit == "" {
		bodyLimit = DefaultWebhookBodyLimit
	}
	return &WebhookHandler{
		service:   service,
		bodyLimit: bodyLimit,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/vapi/send-message", h.SendMessage, middleware.BodyLimit(h.bodyLimit))
}

func (h *WebhookHandler) SendMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return c.JSON(http.StatusBadRequest, webhook.GenericResponse{
			Message: "Webhook processing failed: " + err.Error(),
			Data:    map[string]any{"error": err.Error()},
		})
	}

	resp, err := h.service.Handle(c.Request().Context(), body)
	if errors.Is(err, relay.ErrMalformedPayload) {
		return c.JSON(http.StatusBadRequest, webhook.GenericResponse{
			Message: "Webhook processing failed: malformed payload",
			Data:    map[string]any{"error": err.Error()},
		})
	}
	if err != nil {
		h.logger.Error("webhook failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, webhook.GenericResponse{
			Message: "Webhook processing failed",
			Data:    map[string]any{"error": err.Error()},
		})
	}
	return c.JSON(http.StatusOK, resp)
}
