package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/creastat/relay"
	"github.com/creastat/relay/stream"
)

type StreamHandler struct {
	streamer *stream.Streamer
	logger   *slog.Logger
}

func NewStreamHandler(log *slog.Logger, streamer *stream.Streamer) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		logger:   log.With(slog.String("handler", "stream")),
	}
}

func (h *StreamHandler) Register(e *echo.Echo) {
	e.GET("/api/message-stream/:session_id", h.Stream)
}

func (h *StreamHandler) Stream(c echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderCacheControl)
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sink, err := stream.NewSSEWriter(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	err = h.streamer.Serve(c.Request().Context(), sessionID, sink)
	if err != nil && !errors.Is(err, relay.ErrTransmission) {
		h.logger.Error("stream failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	// The response is already committed; nothing useful can be sent.
	return nil
}
