package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/creastat/relay/session"
)

type SessionHandler struct {
	registry *session.Registry
	logger   *slog.Logger
}

func NewSessionHandler(log *slog.Logger, registry *session.Registry) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		logger:   log.With(slog.String("handler", "session")),
	}
}

func (h *SessionHandler) Register(e *echo.Echo) {
	e.POST("/api/register-browser-session", h.RegisterSession)
}

// RegisterSessionRequest accepts the id as session_id or browser_session_id.
type RegisterSessionRequest struct {
	SessionID        string `json:"session_id"`
	BrowserSessionID string `json:"browser_session_id"`
	CustomerDomain   string `json:"customer_domain" validate:"max=256"`
	CustomerName     string `json:"customer_name" validate:"max=256"`
	CustomerEmail    string `json:"customer_email" validate:"max=256"`
	CompanyName      string `json:"company_name" validate:"max=256"`

	// ID is the resolved session id.
	ID string `json:"-" validate:"required,max=128"`
}

type RegisterSessionResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	BrowserSessionID string `json:"browser_session_id,omitempty"`
}

func (h *SessionHandler) RegisterSession(c echo.Context) error {
	var req RegisterSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, RegisterSessionResponse{Message: "invalid request body"})
	}
	req.ID = strings.TrimSpace(req.BrowserSessionID)
	if req.ID == "" {
		req.ID = strings.TrimSpace(req.SessionID)
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, RegisterSessionResponse{
			Message: "Failed to register browser session: " + err.Error(),
		})
	}

	info := session.Info{
		ID:             req.ID,
		CustomerDomain: req.CustomerDomain,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CompanyName:    req.CompanyName,
	}
	if err := h.registry.Register(c.Request().Context(), info); err != nil {
		h.logger.Error("register session failed", slog.String("session_id", req.ID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, RegisterSessionResponse{
			Message: "Failed to register browser session: " + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, RegisterSessionResponse{
		Success:          true,
		Message:          "Browser session registered successfully",
		BrowserSessionID: req.ID,
	})
}
