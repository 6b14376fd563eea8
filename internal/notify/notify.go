// Package notify publishes engine events for the messaging service.
// Delivery is fire-and-forget: the engine never awaits confirmation and a
// publish failure is logged, not propagated.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel names consumed by the messaging service.
const (
	ChannelApplicationSubmitted = "EVENT_APPLICATION_SUBMITTED"
)

// SubmittedEvent is the payload published when an application reaches the
// submitted state.
type SubmittedEvent struct {
	Type          string    `json:"type"`
	UserID        string    `json:"userId"`
	ApplicationID string    `json:"applicationId"`
	Fingerprint   string    `json:"fingerprint"`
	ExternalRef   string    `json:"externalRef,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Notifier is the fire-and-forget sink contract.
type Notifier interface {
	ApplicationSubmitted(ctx context.Context, ev SubmittedEvent)
}

// RedisNotifier publishes events on Redis pub/sub channels.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier returns a Notifier backed by Redis.
func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger}
}

// ApplicationSubmitted publishes the event, logging on failure.
func (n *RedisNotifier) ApplicationSubmitted(ctx context.Context, ev SubmittedEvent) {
	ev.Type = ChannelApplicationSubmitted

	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("marshal submitted event failed", zap.Error(err))
		return
	}

	if err := n.rdb.Publish(ctx, ChannelApplicationSubmitted, payload).Err(); err != nil {
		n.logger.Warn("publish submitted event failed",
			zap.String("application_id", ev.ApplicationID),
			zap.Error(err),
		)
	}
}
