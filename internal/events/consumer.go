package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/services"
	"github.com/anonto42/nano-midea/notifications/pkg/broker"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	// attemptRetention is how long a locally tracked attempt count survives without a new delivery.
	attemptRetention = 10 * time.Minute
	// maxTrackedAttempts caps the local attempt table; the stalest entries go first.
	maxTrackedAttempts = 10000
)

// ErrDropped marks an event that can never be processed (unknown kind, missing user, pin or post).
// Such messages are acknowledged and discarded.
var ErrDropped = errors.New("event dropped")

// Subscription is the receiving side of a Pub/Sub subscription; *pubsub.Subscriber satisfies it.
type Subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

type PinLookup interface {
	GetPinByID(ctx context.Context, id uint) (*models.Pin, error)
}

type PostLookup interface {
	GetPostByID(ctx context.Context, id uint) (*models.Post, error)
}

type FollowerLookup interface {
	GetFollowerIDs(ctx context.Context, userID uint) ([]uint, error)
}

// Notifier persists and fans out one notification.
type Notifier interface {
	Create(ctx context.Context, in services.CreateInput) (*models.Notification, error)
}

type ConsumerOptions struct {
	RoutingKey string
	// MaxDeliveryAttempts bounds redelivery of events that failed for a transient reason.
	MaxDeliveryAttempts int
	// DeadLetter means the subscription has a dead-letter policy, so failed events are always
	// nacked and Pub/Sub moves them aside after the last attempt.
	DeadLetter bool
}

// Consumer drains the notification subscription and turns each event into notifications.
type Consumer struct {
	sub       Subscription
	users     UserLookup
	pins      PinLookup
	posts     PostLookup
	followers FollowerLookup
	notifier  Notifier
	opts      ConsumerOptions
	logger    zerolog.Logger

	// attempts counts local deliveries of failing messages when Pub/Sub does not report them.
	mu        sync.Mutex
	attempts  map[string]*attemptEntry
	lastSweep time.Time
	now       func() time.Time
}

type attemptEntry struct {
	count int
	seen  time.Time
}

func NewConsumer(
	sub Subscription,
	users UserLookup,
	pins PinLookup,
	posts PostLookup,
	followers FollowerLookup,
	notifier Notifier,
	opts ConsumerOptions,
	logger zerolog.Logger,
) *Consumer {
	if opts.MaxDeliveryAttempts <= 0 {
		opts.MaxDeliveryAttempts = 5
	}
	return &Consumer{
		sub:       sub,
		users:     users,
		pins:      pins,
		posts:     posts,
		followers: followers,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "EventConsumer").Logger(),
		attempts:  make(map[string]*attemptEntry),
		now:       time.Now,
	}
}

// Run receives messages until ctx is cancelled. Pub/Sub invokes the handler from several goroutines.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("Notification consumer started.")
	err := c.sub.Receive(ctx, c.handleMessage)
	c.logger.Info().Msg("Notification consumer stopped.")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive notification events: %w", err)
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg *pubsub.Message) {
	if c.settle(ctx, msg) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// settle processes msg and reports whether it should be acknowledged (false means redeliver).
func (c *Consumer) settle(ctx context.Context, msg *pubsub.Message) bool {
	log := c.logger.With().Str("message_id", msg.ID).Logger()

	if c.opts.RoutingKey != "" && msg.Attributes[broker.RoutingKeyAttribute] != c.opts.RoutingKey {
		log.Warn().Str("routing_key", msg.Attributes[broker.RoutingKeyAttribute]).Msg("Unexpected routing key, discarding message.")
		return true
	}

	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to decode notification event, discarding message.")
		return true
	}

	err := c.Process(ctx, event)
	switch {
	case err == nil:
		c.forget(msg.ID)
		return true
	case errors.Is(err, ErrDropped):
		log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("Notification event dropped.")
		c.forget(msg.ID)
		return true
	}

	if c.opts.DeadLetter {
		log.Error().Err(err).Msg("Notification event failed, nacking.")
		return false
	}
	attempt := c.recordAttempt(msg)
	if attempt >= c.opts.MaxDeliveryAttempts {
		log.Error().Err(err).Int("attempt", attempt).Msg("Notification event failed too many times, discarding.")
		c.forget(msg.ID)
		return true
	}
	log.Warn().Err(err).Int("attempt", attempt).Msg("Notification event failed, will retry.")
	return false
}

// recordAttempt returns the delivery attempt of msg. Pub/Sub's own count wins when it is reported;
// otherwise attempts are counted locally.
func (c *Consumer) recordAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		c.forget(msg.ID)
		return *msg.DeliveryAttempt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepAttempts(now)
	entry, ok := c.attempts[msg.ID]
	if !ok {
		entry = &attemptEntry{}
		c.attempts[msg.ID] = entry
	}
	entry.count++
	entry.seen = now
	return entry.count
}

// sweepAttempts drops entries for messages that were settled elsewhere or expired, then evicts the
// stalest entries while the table is full. Callers hold c.mu.
func (c *Consumer) sweepAttempts(now time.Time) {
	if now.Sub(c.lastSweep) >= attemptRetention/10 {
		c.lastSweep = now
		for id, e := range c.attempts {
			if now.Sub(e.seen) > attemptRetention {
				delete(c.attempts, id)
			}
		}
	}
	for len(c.attempts) >= maxTrackedAttempts {
		var oldestID string
		var oldest time.Time
		for id, e := range c.attempts {
			if oldestID == "" || e.seen.Before(oldest) {
				oldestID, oldest = id, e.seen
			}
		}
		delete(c.attempts, oldestID)
	}
}

func (c *Consumer) forget(id string) {
	c.mu.Lock()
	delete(c.attempts, id)
	c.mu.Unlock()
}

// Process resolves the event's references and creates the resulting notifications. It returns nil for
// suppressed self actions, an error wrapping ErrDropped for events that can never succeed, and any other
// error for failures worth retrying.
func (c *Consumer) Process(ctx context.Context, event models.NotificationEvent) error {
	switch event.Kind {
	case models.KindLike, models.KindComment:
		return c.processPinEvent(ctx, event)
	case models.KindFollow:
		return c.processFollow(ctx, event)
	case models.KindPost:
		return c.processPost(ctx, event)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrDropped, event.Kind)
	}
}

func (c *Consumer) processPinEvent(ctx context.Context, event models.NotificationEvent) error {
	if event.Kind == models.KindComment && event.CommentText == nil {
		return fmt.Errorf("%w: comment event without text", ErrDropped)
	}
	sender, err := c.loadUser(ctx, event.SenderID)
	if err != nil {
		return err
	}
	pin, err := c.pins.GetPinByID(ctx, event.TargetID)
	if err != nil {
		return classify(err, "pin", event.TargetID)
	}

	var text string
	if event.CommentText != nil {
		text = *event.CommentText
	}
	_, err = c.notifier.Create(ctx, services.CreateInput{
		Kind:        event.Kind,
		Sender:      sender,
		RecipientID: pin.OwnerID,
		Pin:         pin,
		Message:     BuildMessage(event.Kind, sender.Username, text),
	})
	return notifyErr(err)
}

func (c *Consumer) processFollow(ctx context.Context, event models.NotificationEvent) error {
	sender, err := c.loadUser(ctx, event.SenderID)
	if err != nil {
		return err
	}
	target, err := c.loadUser(ctx, event.TargetID)
	if err != nil {
		return err
	}

	_, err = c.notifier.Create(ctx, services.CreateInput{
		Kind:        models.KindFollow,
		Sender:      sender,
		RecipientID: target.ID,
		Message:     BuildMessage(models.KindFollow, sender.Username, ""),
	})
	return notifyErr(err)
}

// processPost notifies every follower of the author. Followers already notified before a failure are
// notified again on redelivery.
func (c *Consumer) processPost(ctx context.Context, event models.NotificationEvent) error {
	sender, err := c.loadUser(ctx, event.SenderID)
	if err != nil {
		return err
	}
	post, err := c.posts.GetPostByID(ctx, event.TargetID)
	if err != nil {
		return classify(err, "post", event.TargetID)
	}
	if post.AuthorID != sender.ID {
		return fmt.Errorf("%w: post %d is not authored by user %d", ErrDropped, post.ID, sender.ID)
	}

	followerIDs, err := c.followers.GetFollowerIDs(ctx, sender.ID)
	if err != nil {
		return fmt.Errorf("load followers of user %d: %w", sender.ID, err)
	}

	message := BuildMessage(models.KindPost, sender.Username, "")
	postID := post.ID
	for _, followerID := range followerIDs {
		_, err := c.notifier.Create(ctx, services.CreateInput{
			Kind:        models.KindPost,
			Sender:      sender,
			RecipientID: followerID,
			PostID:      &postID,
			Message:     message,
		})
		if err != nil {
			return fmt.Errorf("notify follower %d: %w", followerID, notifyErr(err))
		}
	}
	return nil
}

func (c *Consumer) loadUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := c.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, classify(err, "user", id)
	}
	return user, nil
}

func classify(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d not found", ErrDropped, what, id)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}

// notifyErr turns rejected input into a drop; store failures stay retryable.
func notifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}
	return err
}
