package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AuthModeJWT, cfg.AuthMode)
	assert.Equal(t, "notification-queue", cfg.PubSub.SubscriptionID)
	assert.Equal(t, 5, cfg.PubSub.MaxDeliveryAttempts)
	assert.Equal(t, 10*time.Second, cfg.PushTimeout)
	assert.True(t, cfg.PushSkipOnline)
	assert.False(t, cfg.PushPruneInvalidTokens)
	assert.Zero(t, cfg.LiveStreamTimeout)
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
port: "9000"
jwt_secret: from-yaml
pubsub:
  project_id: yaml-project
  topic_id: yaml-topic
  subscription_id: yaml-sub
  routing_key: yaml.key
  max_delivery_attempts: 3
consumer_workers: 8
live_stream_timeout: 30s
allowed_origins:
  - https://app.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "")
	t.Setenv("PUBSUB_TOPIC_ID", "env-topic")
	t.Setenv("PUSH_PRUNE_INVALID_TOKENS", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "from-yaml", cfg.JWTSecret)
	assert.Equal(t, "yaml-project", cfg.PubSub.ProjectID)
	assert.Equal(t, "env-topic", cfg.PubSub.TopicID)
	assert.Equal(t, "yaml.key", cfg.PubSub.RoutingKey)
	assert.Equal(t, 3, cfg.PubSub.MaxDeliveryAttempts)
	assert.Equal(t, 8, cfg.ConsumerWorkers)
	assert.Equal(t, 30*time.Second, cfg.LiveStreamTimeout)
	assert.True(t, cfg.PushPruneInvalidTokens)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"unknown auth mode", map[string]string{"JWT_SECRET": "s", "AUTH_MODE": "basic"}, "AUTH_MODE must be"},
		{"firebase without credentials", map[string]string{"AUTH_MODE": "firebase", "FIREBASE_CREDENTIALS_PATH": ""}, "FIREBASE_CREDENTIALS_PATH is required"},
		{"bad integer", map[string]string{"JWT_SECRET": "s", "CONSUMER_WORKERS": "many"}, "parse CONSUMER_WORKERS"},
		{"bad duration", map[string]string{"JWT_SECRET": "s", "PUSH_TIMEOUT": "soon"}, "parse PUSH_TIMEOUT"},
		{"bad bool", map[string]string{"JWT_SECRET": "s", "PUSH_SKIP_ONLINE": "maybe"}, "parse PUSH_SKIP_ONLINE"},
		{"zero workers", map[string]string{"JWT_SECRET": "s", "CONSUMER_WORKERS": "0"}, "CONSUMER_WORKERS must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("AUTH_MODE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestNewLogger_Level(t *testing.T) {
	assert.Equal(t, "debug", NewLogger("production", "debug").GetLevel().String())
	assert.Equal(t, "info", NewLogger("production", "loud").GetLevel().String())
	assert.Equal(t, "info", NewLogger("development", "").GetLevel().String())
}
