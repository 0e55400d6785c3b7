package handlers

import (
	"net/http"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/labstack/echo/v4"
)

// PinHandler handles HTTP requests related to pins
type PinHandler struct {
	pinRepository repositories.PinRepository
	notifications NotificationCleaner
}

// NewPinHandler creates a new PinHandler
func NewPinHandler(pinRepo repositories.PinRepository, notifications NotificationCleaner) *PinHandler {
	return &PinHandler{
		pinRepository: pinRepo,
		notifications: notifications,
	}
}

// RegisterPinRoutes registers pin-related routes
func (h *PinHandler) RegisterPinRoutes(g *echo.Group) {
	g.POST("/pins", h.CreatePin)
	g.GET("/pins/:id", h.GetPin)
	g.DELETE("/pins/:id", h.DeletePin)
}

// CreatePin creates a pin owned by the caller
func (h *PinHandler) CreatePin(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.CreatePinRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pin := &models.Pin{
		OwnerID:  currentUserID,
		Title:    req.Title,
		ImageURL: req.ImageURL,
	}
	if err := h.pinRepository.CreatePin(c.Request().Context(), pin); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, pin)
}

// GetPin retrieves a pin by ID
func (h *PinHandler) GetPin(c echo.Context) error {
	pinID, err := parseIDParam(c, "id", "pin")
	if err != nil {
		return err
	}

	pin, err := h.pinRepository.GetPinByID(c.Request().Context(), pinID)
	if err != nil {
		return httpError(err, "Pin not found")
	}
	return c.JSON(http.StatusOK, pin)
}

// DeletePin deletes the caller's pin and every notification that points at it
func (h *PinHandler) DeletePin(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	pinID, err := parseIDParam(c, "id", "pin")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	pin, err := h.pinRepository.GetPinByID(ctx, pinID)
	if err != nil {
		return httpError(err, "Pin not found")
	}
	if pin.OwnerID != currentUserID {
		return echo.NewHTTPError(http.StatusForbidden, "You can only delete your own pins")
	}

	// Notifications go first so a failed cleanup leaves the pin in place for a retry.
	if _, err := h.notifications.DeleteByPin(ctx, pinID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.pinRepository.DeletePin(ctx, pinID); err != nil {
		return httpError(err, "Pin not found")
	}

	return c.NoContent(http.StatusNoContent)
}
