package handlers

import (
	"net/http"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/live"
	"github.com/labstack/echo/v4"
)

// StreamHandler opens live notification streams (SSE and WebSocket)
type StreamHandler struct {
	registry  *live.Registry
	websocket *live.WebSocketServer
	timeout   time.Duration
}

// NewStreamHandler creates a new StreamHandler. timeout <= 0 keeps streams open until the client leaves.
func NewStreamHandler(registry *live.Registry, ws *live.WebSocketServer, timeout time.Duration) *StreamHandler {
	return &StreamHandler{registry: registry, websocket: ws, timeout: timeout}
}

// RegisterStreamRoutes registers live stream routes
func (h *StreamHandler) RegisterStreamRoutes(g *echo.Group) {
	g.GET("/notifications/stream/:user_id", h.StreamSSE)
	g.GET("/notifications/ws/:user_id", h.StreamWebSocket)
}

func (h *StreamHandler) authorize(c echo.Context) (uint, error) {
	currentUserID, err := requireUser(c)
	if err != nil {
		return 0, err
	}
	userID, err := parseIDParam(c, "user_id", "user")
	if err != nil {
		return 0, err
	}
	if userID != currentUserID {
		return 0, echo.NewHTTPError(http.StatusForbidden, "Cannot subscribe to another user's notifications")
	}
	return userID, nil
}

// StreamSSE holds the response open as a Server-Sent Events stream
func (h *StreamHandler) StreamSSE(c echo.Context) error {
	userID, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.registry.ServeSSE(c.Request().Context(), c.Response(), userID, h.timeout); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return nil
}

// StreamWebSocket upgrades the connection and streams notifications as JSON frames
func (h *StreamHandler) StreamWebSocket(c echo.Context) error {
	userID, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.websocket.Serve(c.Response(), c.Request(), userID, h.timeout); err != nil {
		c.Logger().Warnf("websocket upgrade failed: %v", err)
	}
	return nil
}
