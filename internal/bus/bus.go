// Package bus is the Redis-backed pub/sub fan-out for proactive
// notifications, plus a short-TTL key/value cache. Delivery is
// at-least-once; subscribers must tolerate duplicates.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notification is the wire format published on notifications:<platform>.
type Notification struct {
	Platform          string     `json:"platform"`
	PlatformChannelID string     `json:"platform_channel_id"`
	PlatformThreadID  *string    `json:"platform_thread_id"`
	Content           string     `json:"content"`
	UserID            *uuid.UUID `json:"user_id"`
	JobID             *uuid.UUID `json:"job_id"`
}

// ChannelFor returns the pub/sub channel name for a platform.
func ChannelFor(platform string) string {
	return "notifications:" + platform
}

// Bus wraps a Redis client for notification fan-out and caching.
type Bus struct {
	rdb *redis.Client
}

// New connects to Redis at the given URL (redis://host:port/db).
func New(url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Bus{rdb: rdb}, nil
}

// Publish sends a notification to the platform's channel.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := b.rdb.Publish(ctx, ChannelFor(n.Platform), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe returns a channel of notifications for one platform. The
// subscription ends when ctx is cancelled; the returned stop func closes
// the underlying Redis subscription.
func (b *Bus) Subscribe(ctx context.Context, platform string) (<-chan Notification, func()) {
	sub := b.rdb.Subscribe(ctx, ChannelFor(platform))
	out := make(chan Notification)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					slog.Warn("bus.bad_notification", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// Get reads a cache key. A miss returns ("", false, nil); misses are safe.
func (b *Bus) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes a cache key with an explicit TTL.
func (b *Bus) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
