package live

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient is the part of go-redis the presence tracker uses.
type redisClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisPresence records which instances hold a live connection for each user, so any instance can
// tell whether a user is connected somewhere. Keys: presence:user:{id} -> set of instance ids.
type RedisPresence struct {
	client     redisClient
	instanceID string
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewRedisPresence creates a tracker for this instance. ttl bounds how long a crashed instance's
// entries survive; zero disables expiry.
func NewRedisPresence(client redisClient, ttl time.Duration, logger zerolog.Logger) (*RedisPresence, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	instanceID := uuid.NewString()
	return &RedisPresence{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger.With().Str("component", "RedisPresence").Str("instance", instanceID).Logger(),
	}, nil
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

func (p *RedisPresence) MarkOnline(ctx context.Context, userID uint) error {
	key := presenceKey(userID)
	if err := p.client.SAdd(ctx, key, p.instanceID).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	if p.ttl > 0 {
		if err := p.client.Expire(ctx, key, p.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}

func (p *RedisPresence) MarkOffline(ctx context.Context, userID uint) error {
	key := presenceKey(userID)
	if err := p.client.SRem(ctx, key, p.instanceID).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

// IsOnline reports whether any instance holds a connection for userID. Redis errors count as offline
// so the mobile push still goes out.
func (p *RedisPresence) IsOnline(ctx context.Context, userID uint) bool {
	n, err := p.client.SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		p.logger.Warn().Err(err).Uint("user", userID).Msg("Presence lookup failed.")
		return false
	}
	return n > 0
}
