package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// EventPublisher enqueues notification events. It never blocks the request on the broker.
type EventPublisher interface {
	Publish(ctx context.Context, event models.NotificationEvent)
}

// LikeHandler handles HTTP requests related to likes
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	pinRepository  repositories.PinRepository
	publisher      EventPublisher
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, pinRepo repositories.PinRepository, publisher EventPublisher) *LikeHandler {
	return &LikeHandler{
		likeRepository: likeRepo,
		pinRepository:  pinRepo,
		publisher:      publisher,
	}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.POST("/pins/:id/likes", h.LikePin)
}

// LikePin handles liking a pin and notifies the pin owner
func (h *LikeHandler) LikePin(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	pinID, err := parseIDParam(c, "id", "pin")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.pinRepository.GetPinByID(ctx, pinID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Pin not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Check if user has already liked the pin
	hasLiked, err := h.likeRepository.HasUserLikedPin(ctx, pinID, currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hasLiked {
		return echo.NewHTTPError(http.StatusConflict, "Pin already liked by this user")
	}

	like := &models.Like{
		PinID:  pinID,
		UserID: currentUserID,
	}
	if err := h.likeRepository.CreateLike(ctx, like); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publisher.Publish(ctx, models.NewLikeEvent(currentUserID, pinID))

	return c.JSON(http.StatusCreated, like)
}
