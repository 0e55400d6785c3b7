package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// CommentHandler handles HTTP requests related to comments
type CommentHandler struct {
	commentRepository repositories.CommentRepository
	pinRepository     repositories.PinRepository
	publisher         EventPublisher
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentRepo repositories.CommentRepository, pinRepo repositories.PinRepository, publisher EventPublisher) *CommentHandler {
	return &CommentHandler{
		commentRepository: commentRepo,
		pinRepository:     pinRepo,
		publisher:         publisher,
	}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.POST("/pins/:id/comments", h.CreateComment)
}

// CreateComment creates a new comment on a pin and notifies the pin owner
func (h *CommentHandler) CreateComment(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	pinID, err := parseIDParam(c, "id", "pin")
	if err != nil {
		return err
	}

	var req models.CreateCommentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.pinRepository.GetPinByID(ctx, pinID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Pin not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	comment := &models.Comment{
		PinID:   pinID,
		UserID:  currentUserID,
		Content: req.Content,
	}
	if err := h.commentRepository.CreateComment(ctx, comment); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publisher.Publish(ctx, models.NewCommentEvent(currentUserID, pinID, comment.Content))

	return c.JSON(http.StatusCreated, comment)
}
