package handlers

import (
	"context"
	"net/http"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/labstack/echo/v4"
)

// NotificationCleaner removes notifications whose subject no longer exists.
type NotificationCleaner interface {
	DeleteByPin(ctx context.Context, pinID uint) (int64, error)
	DeleteByPost(ctx context.Context, postID uint) (int64, error)
	DeleteByUser(ctx context.Context, userID uint, role repositories.NotificationRole) (int64, error)
}

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	postRepository repositories.PostRepository
	notifications  NotificationCleaner
	publisher      EventPublisher
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(postRepo repositories.PostRepository, notifications NotificationCleaner, publisher EventPublisher) *PostHandler {
	return &PostHandler{
		postRepository: postRepo,
		notifications:  notifications,
		publisher:      publisher,
	}
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(g *echo.Group) {
	g.POST("/posts", h.CreatePost)
	g.GET("/posts/:id", h.GetPost)
	g.DELETE("/posts/:id", h.DeletePost)
}

// CreatePost creates a new post and notifies the author's followers
func (h *PostHandler) CreatePost(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}

	var req models.CreatePostRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	post := &models.Post{
		AuthorID: currentUserID,
		Content:  req.Content,
	}
	if err := h.postRepository.CreatePost(ctx, post); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publisher.Publish(ctx, models.NewPostEvent(currentUserID, post.ID))

	return c.JSON(http.StatusCreated, post)
}

// GetPost retrieves a post by ID
func (h *PostHandler) GetPost(c echo.Context) error {
	postID, err := parseIDParam(c, "id", "post")
	if err != nil {
		return err
	}

	post, err := h.postRepository.GetPostByID(c.Request().Context(), postID)
	if err != nil {
		return httpError(err, "Post not found")
	}
	return c.JSON(http.StatusOK, post)
}

// DeletePost deletes the caller's post and every notification that points at it
func (h *PostHandler) DeletePost(c echo.Context) error {
	currentUserID, err := requireUser(c)
	if err != nil {
		return err
	}
	postID, err := parseIDParam(c, "id", "post")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return httpError(err, "Post not found")
	}
	if post.AuthorID != currentUserID {
		return echo.NewHTTPError(http.StatusForbidden, "You can only delete your own posts")
	}

	if _, err := h.notifications.DeleteByPost(ctx, postID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.postRepository.DeletePost(ctx, postID); err != nil {
		return httpError(err, "Post not found")
	}

	return c.NoContent(http.StatusNoContent)
}
