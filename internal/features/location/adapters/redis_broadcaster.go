package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/features/location/domain"
)

// RedisFixBroadcaster publishes live fixes on a per-operator Redis channel
// so dispatch views can follow an operator without polling.
type RedisFixBroadcaster struct {
	pub cache.Publisher
}

// NewRedisFixBroadcaster creates a new RedisFixBroadcaster.
func NewRedisFixBroadcaster(pub cache.Publisher) *RedisFixBroadcaster {
	return &RedisFixBroadcaster{pub: pub}
}

// ChannelFor returns the channel fixes for operatorID are published on.
func ChannelFor(operatorID string) string {
	return "handoff:operators:" + operatorID + ":location"
}

// Broadcast implements ports.FixBroadcaster.
func (b *RedisFixBroadcaster) Broadcast(ctx context.Context, fix domain.Fix) error {
	data, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}
	if err := b.pub.Publish(ctx, ChannelFor(fix.OperatorID), data); err != nil {
		return fmt.Errorf("failed to broadcast fix: %w", err)
	}
	return nil
}
