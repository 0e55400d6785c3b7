// Package live keeps the process-local set of open notification streams and pushes to them.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventInit         = "INIT"
	EventNotification = "notification"

	initPayload = "connected"
)

// Stream is one open transport to a client (an SSE response, a websocket).
type Stream interface {
	Send(event string, data []byte) error
	Close() error
}

// Presence is told when a user gains their first or loses their last connection on this instance.
type Presence interface {
	MarkOnline(ctx context.Context, userID uint) error
	MarkOffline(ctx context.Context, userID uint) error
}

// Connection is a registered stream. It deregisters itself when the transport ends.
type Connection struct {
	id       string
	userID   uint
	stream   Stream
	registry *Registry
	done     chan struct{}
	once     sync.Once
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() uint { return c.userID }

// Done is closed once the connection has been removed from the registry.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Complete is the transport's callback for a normally finished stream (client went away).
func (c *Connection) Complete() {
	c.registry.remove(c, "completed")
}

// Timeout is the transport's callback for a stream that hit its lifetime limit.
func (c *Connection) Timeout() {
	c.registry.remove(c, "timeout")
}

type bucket struct {
	mu    sync.Mutex
	conns map[string]*Connection
	dead  bool
}

// Registry maps user ids to their open connections. Each user has an independently locked bucket,
// so pushes to different users never contend.
type Registry struct {
	buckets  sync.Map // uint -> *bucket
	presence Presence
	logger   zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates an empty registry. presence may be nil.
func NewRegistry(presence Presence, logger zerolog.Logger) *Registry {
	return &Registry{
		presence: presence,
		logger:   logger.With().Str("component", "LiveRegistry").Logger(),
		stop:     make(chan struct{}),
	}
}

// Subscribe registers stream for userID and sends the INIT handshake. A failed handshake is logged only;
// the caller still gets the handle and keeps the transport open.
func (r *Registry) Subscribe(userID uint, stream Stream) *Connection {
	conn := &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		stream:   stream,
		registry: r,
		done:     make(chan struct{}),
	}

	first := false
	for {
		v, _ := r.buckets.LoadOrStore(userID, &bucket{conns: make(map[string]*Connection)})
		b := v.(*bucket)
		b.mu.Lock()
		if b.dead {
			// lost a race with the removal of the user's last connection
			b.mu.Unlock()
			continue
		}
		first = len(b.conns) == 0
		b.conns[conn.id] = conn
		b.mu.Unlock()
		break
	}

	if first {
		r.markOnline(userID)
	}
	r.logger.Info().Uint("user", userID).Str("conn", conn.id).Msg("Live connection opened.")

	if err := stream.Send(EventInit, []byte(initPayload)); err != nil {
		r.logger.Warn().Err(err).Uint("user", userID).Str("conn", conn.id).Msg("Failed to send INIT event.")
	}
	return conn
}

// Push sends view to every connection currently open for userID. A connection whose send fails is
// closed and removed; the other connections still receive the event.
func (r *Registry) Push(userID uint, view models.NotificationView) {
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		return
	}

	payload, err := json.Marshal(view)
	if err != nil {
		r.logger.Error().Err(err).Uint("user", userID).Msg("Failed to marshal notification view.")
		return
	}

	for _, c := range conns {
		if err := c.stream.Send(EventNotification, payload); err != nil {
			r.logger.Warn().Err(err).Uint("user", userID).Str("conn", c.id).Msg("Live send failed, dropping connection.")
			r.remove(c, "send failed")
		}
	}
}

// Count reports how many connections are open for userID.
func (r *Registry) Count(userID uint) int {
	v, ok := r.buckets.Load(userID)
	if !ok {
		return 0
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// IsOnline reports whether userID has at least one open connection on this instance.
func (r *Registry) IsOnline(_ context.Context, userID uint) bool {
	return r.Count(userID) > 0
}

// RefreshPresence re-marks every user with an open connection online each interval, keeping presence
// entries that expire alive for as long as the connection lasts. It returns when ctx is done or the
// registry shuts down, and immediately when there is no presence store.
func (r *Registry) RefreshPresence(ctx context.Context, interval time.Duration) {
	if r.presence == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.refreshOnline()
		}
	}
}

func (r *Registry) refreshOnline() {
	var users []uint
	r.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		if len(b.conns) > 0 && !b.dead {
			users = append(users, k.(uint))
		}
		b.mu.Unlock()
		return true
	})
	for _, userID := range users {
		r.markOnline(userID)
		// the last connection may have closed while the refresh was in flight
		if r.Count(userID) == 0 {
			r.markOffline(userID)
		}
	}
	if len(users) > 0 {
		r.logger.Debug().Int("users", len(users)).Msg("Presence refreshed.")
	}
}

// Shutdown closes every open connection and stops RefreshPresence. Clients must resubscribe after a restart.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	var all []*Connection
	r.buckets.Range(func(_, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		for _, c := range b.conns {
			all = append(all, c)
		}
		b.mu.Unlock()
		return true
	})
	for _, c := range all {
		r.remove(c, "shutdown")
	}
	r.logger.Info().Int("closed", len(all)).Msg("Live registry shut down.")
}

func (r *Registry) snapshot(userID uint) []*Connection {
	v, ok := r.buckets.Load(userID)
	if !ok {
		return nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) remove(c *Connection, reason string) {
	c.once.Do(func() {
		last := false
		if v, ok := r.buckets.Load(c.userID); ok {
			b := v.(*bucket)
			b.mu.Lock()
			delete(b.conns, c.id)
			if len(b.conns) == 0 && !b.dead {
				b.dead = true
				last = true
				r.buckets.CompareAndDelete(c.userID, b)
			}
			b.mu.Unlock()
		}

		if err := c.stream.Close(); err != nil {
			r.logger.Debug().Err(err).Str("conn", c.id).Msg("Error closing live stream.")
		}
		close(c.done)

		if last {
			r.markOffline(c.userID)
		}
		r.logger.Info().Uint("user", c.userID).Str("conn", c.id).Str("reason", reason).Msg("Live connection closed.")
	})
}

func (r *Registry) markOnline(userID uint) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.presence.MarkOnline(ctx, userID); err != nil {
		r.logger.Error().Err(err).Uint("user", userID).Msg("Failed to set user presence.")
	}
}

func (r *Registry) markOffline(userID uint) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.presence.MarkOffline(ctx, userID); err != nil {
		r.logger.Error().Err(err).Uint("user", userID).Msg("Failed to clear user presence.")
	}
}
