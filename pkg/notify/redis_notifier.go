// Package notify delivers conflict notices to connected clients through
// Redis pub/sub. Each whiteboard has one channel; gateway instances subscribe
// and fan the notices out to their websocket sessions, so notices reach users
// regardless of which instance they are connected to.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
)

const channelPrefix = "boardmesh:notify:"

// envelope is the wire form of a notice: the notification plus its audience.
// Subscribers drop notices addressed to users they do not host.
type envelope struct {
	UserIDs []string            `json:"user_ids"`
	Notice  models.Notification `json:"notice"`
}

// RedisNotifier publishes notices to per-whiteboard Redis channels. It
// satisfies the services.Notifier interface.
type RedisNotifier struct {
	client  redis.UniversalClient
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewRedisNotifier creates a notifier over an existing Redis client
func NewRedisNotifier(client redis.UniversalClient, logger observability.Logger, metrics observability.MetricsClient) *RedisNotifier {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &RedisNotifier{client: client, logger: logger, metrics: metrics}
}

// NotifyUsers publishes one notice to the whiteboard's channel
func (n *RedisNotifier) NotifyUsers(ctx context.Context, userIDs []string, notice models.Notification) error {
	payload, err := json.Marshal(envelope{UserIDs: userIDs, Notice: notice})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	channel := ChannelFor(notice.WhiteboardID)
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	n.metrics.IncrementCounterWithLabels("notify.published", 1, map[string]string{
		"kind": string(notice.Kind),
	})
	return nil
}

// ChannelFor returns the pub/sub channel name for a whiteboard
func ChannelFor(whiteboardID string) string {
	return channelPrefix + whiteboardID
}

// Subscription is a live pub/sub subscription for one whiteboard. Notices
// arrive on C until Close is called or the context is cancelled.
type Subscription struct {
	C      <-chan Delivery
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// Delivery is one decoded notice with its audience
type Delivery struct {
	UserIDs []string
	Notice  models.Notification
}

// Subscribe opens a subscription on a whiteboard's notification channel
func (n *RedisNotifier) Subscribe(ctx context.Context, whiteboardID string) (*Subscription, error) {
	pubsub := n.client.Subscribe(ctx, ChannelFor(whiteboardID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", whiteboardID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Delivery, 64)
	go func() {
		defer close(out)
		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					n.logger.Warn("dropping undecodable notification", map[string]interface{}{
						"channel": msg.Channel,
						"error":   err.Error(),
					})
					continue
				}
				select {
				case out <- Delivery{UserIDs: env.UserIDs, Notice: env.Notice}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{C: out, pubsub: pubsub, cancel: cancel}, nil
}

// Close tears down the subscription
func (s *Subscription) Close() error {
	s.cancel()
	return s.pubsub.Close()
}
