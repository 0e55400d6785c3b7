package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/push"
	"github.com/labstack/echo/v4"
)

// PushTokenRegistry registers and removes device tokens.
type PushTokenRegistry interface {
	RegisterToken(ctx context.Context, userID uint, token string) error
	RemoveToken(ctx context.Context, userID uint, token string) error
}

// PushTokenHandler handles device token registration
type PushTokenHandler struct {
	tokens PushTokenRegistry
}

// NewPushTokenHandler creates a new PushTokenHandler
func NewPushTokenHandler(tokens PushTokenRegistry) *PushTokenHandler {
	return &PushTokenHandler{tokens: tokens}
}

// RegisterPushTokenRoutes registers push token routes
func (h *PushTokenHandler) RegisterPushTokenRoutes(g *echo.Group) {
	g.POST("/push-tokens", h.RegisterToken)
	g.DELETE("/push-tokens", h.RemoveToken)
}

// RegisterToken stores the caller's device token. Registering twice is harmless.
func (h *PushTokenHandler) RegisterToken(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.PushTokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.tokens.RegisterToken(c.Request().Context(), currentUserID, req.Token); err != nil {
		return tokenError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveToken forgets the caller's device token. Unknown tokens are ignored.
func (h *PushTokenHandler) RemoveToken(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.PushTokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.tokens.RemoveToken(c.Request().Context(), currentUserID, req.Token); err != nil {
		return tokenError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func tokenError(err error) error {
	if errors.Is(err, push.ErrInvalidToken) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
