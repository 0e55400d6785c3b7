// Package push keeps device tokens and delivers mobile push notifications through FCM.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
)

// maxTokensPerCall is the FCM multicast cap.
const maxTokensPerCall = 500

var ErrInvalidToken = errors.New("push token must not be empty")

// Gateway is the part of *messaging.Client the service uses.
type Gateway interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenStore persists (user, token) pairs.
type TokenStore interface {
	RegisterToken(ctx context.Context, userID uint, token string) error
	RemoveToken(ctx context.Context, userID uint, token string) error
	RemoveTokens(ctx context.Context, userID uint, tokens []string) (int64, error)
	GetTokensByUserID(ctx context.Context, userID uint) ([]string, error)
}

// PresenceChecker reports whether a user currently has a live connection.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID uint) bool
}

type Options struct {
	// Timeout bounds each asynchronous send. Zero means 10s.
	Timeout time.Duration
	// PruneInvalidTokens removes tokens the gateway reports as unregistered.
	PruneInvalidTokens bool
	// SkipOnline suppresses mobile push for users with an open live connection. Needs a PresenceChecker.
	SkipOnline bool
}

type Service struct {
	store    TokenStore
	gateway  Gateway
	presence PresenceChecker
	opts     Options
	logger   zerolog.Logger
	wg       sync.WaitGroup

	isUnregistered func(error) bool
}

// NewService builds the push service. gateway may be nil, in which case tokens are still managed but
// nothing is sent. presence may be nil.
func NewService(store TokenStore, gateway Gateway, presence PresenceChecker, opts Options, logger zerolog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		presence: presence,
		opts:     opts,
		logger:   logger.With().Str("component", "PushService").Logger(),

		isUnregistered: messaging.IsUnregistered,
	}
}

// RegisterToken records a device token for userID. Registering the same pair twice is a no-op.
func (s *Service) RegisterToken(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.store.RegisterToken(ctx, userID, token); err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	return nil
}

// RemoveToken forgets a device token. Removing an unknown pair is a no-op.
func (s *Service) RemoveToken(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.store.RemoveToken(ctx, userID, token); err != nil {
		return fmt.Errorf("remove push token: %w", err)
	}
	return nil
}

// SendPush delivers title/body to every device of userID. Failures are logged, never returned.
func (s *Service) SendPush(ctx context.Context, userID uint, title, body string) {
	if s.gateway == nil {
		return
	}
	if s.opts.SkipOnline && s.presence != nil && s.presence.IsOnline(ctx, userID) {
		s.logger.Debug().Uint("user", userID).Msg("User is online, skipping mobile push.")
		return
	}

	tokens, err := s.store.GetTokensByUserID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Uint("user", userID).Msg("Failed to load push tokens.")
		return
	}
	if len(tokens) == 0 {
		return
	}

	var invalid []string
	for start := 0; start < len(tokens); start += maxTokensPerCall {
		end := min(start+maxTokensPerCall, len(tokens))
		chunk := tokens[start:end]

		resp, err := s.gateway.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
		})
		if err != nil {
			s.logger.Error().Err(err).Uint("user", userID).Int("tokens", len(chunk)).Msg("Push send failed.")
			continue
		}
		if resp.FailureCount > 0 {
			s.logger.Warn().Uint("user", userID).Int("success", resp.SuccessCount).Int("failure", resp.FailureCount).Msg("Some push deliveries failed.")
		}
		for i, r := range resp.Responses {
			if r != nil && !r.Success && i < len(chunk) && s.isUnregistered(r.Error) {
				invalid = append(invalid, chunk[i])
			}
		}
	}

	if s.opts.PruneInvalidTokens && len(invalid) > 0 {
		n, err := s.store.RemoveTokens(ctx, userID, invalid)
		if err != nil {
			s.logger.Error().Err(err).Uint("user", userID).Msg("Failed to prune invalid push tokens.")
			return
		}
		s.logger.Info().Uint("user", userID).Int64("removed", n).Msg("Pruned unregistered push tokens.")
	}
}

// SendPushAsync runs SendPush in the background with the configured timeout.
func (s *Service) SendPushAsync(userID uint, title, body string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		s.SendPush(ctx, userID, title, body)
	}()
}

// Wait blocks until all in-flight asynchronous sends have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
