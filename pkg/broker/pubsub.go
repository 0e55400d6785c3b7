// Package broker sets up the Pub/Sub topic and subscription that carry notification events.
package broker

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RoutingKeyAttribute is the message attribute the subscription filter binds on.
const RoutingKeyAttribute = "routing_key"

// Topology names the queue resources. The topic plays the exchange, the subscription the queue bound to it
// by RoutingKey.
type Topology struct {
	ProjectID           string
	TopicID             string
	SubscriptionID      string
	RoutingKey          string
	DeadLetterTopicID   string // optional
	MaxDeliveryAttempts int32  // used only with a dead-letter topic
	AckDeadlineSeconds  int32
}

func (t Topology) TopicPath() string {
	return fmt.Sprintf("projects/%s/topics/%s", t.ProjectID, t.TopicID)
}

func (t Topology) SubscriptionPath() string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", t.ProjectID, t.SubscriptionID)
}

func (t Topology) deadLetterPath() string {
	return fmt.Sprintf("projects/%s/topics/%s", t.ProjectID, t.DeadLetterTopicID)
}

// Filter is the subscription filter expression selecting this topology's routing key.
func (t Topology) Filter() string {
	if t.RoutingKey == "" {
		return ""
	}
	return fmt.Sprintf("attributes.%s = %q", RoutingKeyAttribute, t.RoutingKey)
}

// NewClient connects to Pub/Sub. PUBSUB_EMULATOR_HOST is honored by the client library.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}

// EnsureTopology creates the topic, the optional dead-letter topic and the filtered subscription if they
// do not exist yet. Existing resources are left as they are.
func EnsureTopology(ctx context.Context, client *pubsub.Client, t Topology, logger zerolog.Logger) error {
	if t.ProjectID == "" || t.TopicID == "" || t.SubscriptionID == "" {
		return fmt.Errorf("pubsub topology requires project, topic and subscription ids")
	}

	if err := ensureTopic(ctx, client, t.TopicPath(), logger); err != nil {
		return err
	}

	sub := &pubsubpb.Subscription{
		Name:               t.SubscriptionPath(),
		Topic:              t.TopicPath(),
		AckDeadlineSeconds: t.AckDeadlineSeconds,
		Filter:             t.Filter(),
	}
	if t.DeadLetterTopicID != "" {
		if err := ensureTopic(ctx, client, t.deadLetterPath(), logger); err != nil {
			return err
		}
		sub.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     t.deadLetterPath(),
			MaxDeliveryAttempts: t.MaxDeliveryAttempts,
		}
	}

	_, err := client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub.Name})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to get subscription %s: %w", sub.Name, err)
	}

	logger.Info().Str("subscription", sub.Name).Str("filter", sub.Filter).Msg("Subscription not found, creating it...")
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create subscription %s: %w", sub.Name, err)
	}
	return nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, path string, logger zerolog.Logger) error {
	_, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to get topic %s: %w", path, err)
	}

	logger.Info().Str("topic", path).Msg("Topic not found, creating it...")
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: path})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create topic %s: %w", path, err)
	}
	return nil
}
