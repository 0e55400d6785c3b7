// Package services holds the notification orchestrator called by request handlers and the event consumer.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const defaultPageSize = 20

// UserLookup resolves sender details for notification views.
type UserLookup interface {
	GetUsersByIDs(ctx context.Context, ids []uint) ([]models.User, error)
}

// PinLookup resolves pin thumbnails for notification views.
type PinLookup interface {
	GetPinsByIDs(ctx context.Context, ids []uint) ([]models.Pin, error)
}

// LivePublisher delivers a view to the recipient's open live connections, if any.
type LivePublisher interface {
	Push(userID uint, view models.NotificationView)
}

// PushRequester schedules a mobile push. It must not block.
type PushRequester interface {
	SendPushAsync(userID uint, title, body string)
}

// CreateInput describes one notification to persist.
type CreateInput struct {
	Kind        models.NotificationKind
	Sender      *models.User
	RecipientID uint
	Pin         *models.Pin
	PostID      *uint
	Message     string
}

// NotificationService wraps the store, the live registry and the suppression rule.
type NotificationService struct {
	repo   repositories.NotificationRepository
	users  UserLookup
	pins   PinLookup
	live   LivePublisher
	pusher PushRequester
	logger zerolog.Logger
	now    func() time.Time
}

// NewNotificationService wires the orchestrator. pusher may be nil to disable mobile push.
func NewNotificationService(
	repo repositories.NotificationRepository,
	users UserLookup,
	pins PinLookup,
	live LivePublisher,
	pusher PushRequester,
	logger zerolog.Logger,
) *NotificationService {
	return &NotificationService{
		repo:   repo,
		users:  users,
		pins:   pins,
		live:   live,
		pusher: pusher,
		logger: logger.With().Str("component", "NotificationService").Logger(),
		now:    time.Now,
	}
}

// Create persists a notification and then fans it out to live connections and mobile push.
// A notification addressed to its own sender is suppressed: Create returns nil, nil and nothing is stored.
func (s *NotificationService) Create(ctx context.Context, in CreateInput) (*models.Notification, error) {
	if in.Sender != nil && in.Sender.ID == in.RecipientID {
		s.logger.Debug().Uint("user", in.RecipientID).Str("kind", string(in.Kind)).Msg("Self action suppressed.")
		return nil, nil
	}
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
	if in.RecipientID == 0 {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}
	if in.Pin != nil && in.PostID != nil {
		return nil, fmt.Errorf("%w: a notification references a pin or a post, not both", ErrInvalidInput)
	}

	n := &models.Notification{
		Kind:        in.Kind,
		Message:     in.Message,
		RecipientID: in.RecipientID,
		PostID:      in.PostID,
		IsRead:      false,
		CreatedAt:   s.now(),
	}
	if in.Sender != nil {
		senderID := in.Sender.ID
		n.SenderID = &senderID
	}
	if in.Pin != nil {
		pinID := in.Pin.ID
		n.PinID = &pinID
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	// Durable first; everything below is best-effort.
	s.live.Push(n.RecipientID, buildView(*n, in.Sender, in.Pin))
	if s.pusher != nil {
		s.pusher.SendPushAsync(n.RecipientID, n.Kind.PushTitle(), n.Message)
	}
	return n, nil
}

// ListForUser returns one page of the recipient's notifications, newest first, and the total count.
func (s *NotificationService) ListForUser(ctx context.Context, recipientID uint, page, size int) ([]models.NotificationView, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	notifications, total, err := s.repo.GetByRecipientID(ctx, recipientID, page, size)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return s.enrich(ctx, notifications), total, nil
}

// ListAllForUser returns every notification of the recipient, newest first.
func (s *NotificationService) ListAllForUser(ctx context.Context, recipientID uint) ([]models.NotificationView, error) {
	notifications, err := s.repo.GetAllByRecipientID(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list all notifications: %w", err)
	}
	return s.enrich(ctx, notifications), nil
}

// ListGrouped buckets the recipient's notifications into today, yesterday, this week and older.
func (s *NotificationService) ListGrouped(ctx context.Context, recipientID uint) (*models.GroupedNotifications, error) {
	today, yesterday, thisWeek, older, err := s.repo.GetGrouped(ctx, recipientID, s.now())
	if err != nil {
		return nil, fmt.Errorf("group notifications: %w", err)
	}
	return &models.GroupedNotifications{
		Today:     s.enrich(ctx, today),
		Yesterday: s.enrich(ctx, yesterday),
		ThisWeek:  s.enrich(ctx, thisWeek),
		Older:     s.enrich(ctx, older),
	}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID uint) (int64, error) {
	count, err := s.repo.GetUnreadCount(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification as read on behalf of requestingUserID, who must be its recipient.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, requestingUserID uint) error {
	n, err := s.repo.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load notification: %w", err)
	}
	if n.RecipientID != requestingUserID {
		return ErrAccessDenied
	}
	if n.IsRead {
		return nil
	}
	if err := s.repo.MarkAsRead(ctx, notificationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead marks every notification of the recipient as read and reports how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	changed, err := s.repo.MarkAllAsRead(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return changed, nil
}

func (s *NotificationService) DeleteByPin(ctx context.Context, pinID uint) (int64, error) {
	n, err := s.repo.DeleteByPinID(ctx, pinID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications of pin %d: %w", pinID, err)
	}
	s.logger.Debug().Uint("pin", pinID).Int64("deleted", n).Msg("Notifications of pin deleted.")
	return n, nil
}

func (s *NotificationService) DeleteByPost(ctx context.Context, postID uint) (int64, error) {
	n, err := s.repo.DeleteByPostID(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications of post %d: %w", postID, err)
	}
	s.logger.Debug().Uint("post", postID).Int64("deleted", n).Msg("Notifications of post deleted.")
	return n, nil
}

func (s *NotificationService) DeleteByUser(ctx context.Context, userID uint, role repositories.NotificationRole) (int64, error) {
	n, err := s.repo.DeleteByUserID(ctx, userID, role)
	if err != nil {
		return 0, fmt.Errorf("delete notifications of user %d: %w", userID, err)
	}
	s.logger.Debug().Uint("user", userID).Int64("deleted", n).Msg("Notifications of user deleted.")
	return n, nil
}

// enrich turns stored rows into client views, resolving senders and pins in one query each.
func (s *NotificationService) enrich(ctx context.Context, notifications []models.Notification) []models.NotificationView {
	views := make([]models.NotificationView, 0, len(notifications))
	if len(notifications) == 0 {
		return views
	}

	senderIDs := make([]uint, 0, len(notifications))
	pinIDs := make([]uint, 0, len(notifications))
	for _, n := range notifications {
		if n.SenderID != nil {
			senderIDs = append(senderIDs, *n.SenderID)
		}
		if n.PinID != nil {
			pinIDs = append(pinIDs, *n.PinID)
		}
	}

	userCache := make(map[uint]*models.User)
	if users, err := s.users.GetUsersByIDs(ctx, dedupe(senderIDs)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load notification senders.")
	} else {
		for i := range users {
			userCache[users[i].ID] = &users[i]
		}
	}

	pinCache := make(map[uint]*models.Pin)
	if pins, err := s.pins.GetPinsByIDs(ctx, dedupe(pinIDs)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load notification pins.")
	} else {
		for i := range pins {
			pinCache[pins[i].ID] = &pins[i]
		}
	}

	for _, n := range notifications {
		var sender *models.User
		if n.SenderID != nil {
			sender = userCache[*n.SenderID]
		}
		var pin *models.Pin
		if n.PinID != nil {
			pin = pinCache[*n.PinID]
		}
		views = append(views, buildView(n, sender, pin))
	}
	return views
}

func buildView(n models.Notification, sender *models.User, pin *models.Pin) models.NotificationView {
	view := models.NotificationView{
		ID:        n.ID,
		Kind:      n.Kind,
		Message:   n.Message,
		SenderID:  n.SenderID,
		PinID:     n.PinID,
		PostID:    n.PostID,
		CreatedAt: n.CreatedAt,
		IsRead:    n.IsRead,
	}
	if sender != nil {
		view.SenderUsername = sender.Username
	}
	if pin != nil {
		view.PinImageURL = pin.ImageURL
	}
	return view
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
