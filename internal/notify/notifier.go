// Package notify publishes transient status notifications keyed by a fixed
// operation id. Repeated publishes for the same id replace the previous
// entry, so a polling UI shows one live status line instead of a stack.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// Levels for notifications.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notification is one transient status entry.
type Notification struct {
	OpID      string    `json:"op_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notifier publishes last-write-wins notifications.
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
}

const defaultTTL = 10 * time.Minute

// RedisNotifier stores the latest notification per operation id in Redis.
type RedisNotifier struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisNotifier creates a notifier backed by the given Redis client.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, ttl: defaultTTL}
}

func key(opID string) string { return "notify:" + opID }

// Publish replaces the notification for n.OpID.
func (r *RedisNotifier) Publish(ctx context.Context, n Notification) error {
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	if err := r.rdb.Set(ctx, key(n.OpID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing notification: %w", err)
	}
	return nil
}

// Get returns the current notification for an operation id, or nil when
// none is live.
func (r *RedisNotifier) Get(ctx context.Context, opID string) (*Notification, error) {
	data, err := r.rdb.Get(ctx, key(opID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading notification: %w", err)
	}
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("parsing notification: %w", err)
	}
	return &n, nil
}

// NopNotifier is used when Redis is not configured. Notifications are
// logged and dropped; sync behavior is unchanged.
type NopNotifier struct{}

// Publish logs the notification at debug level.
func (NopNotifier) Publish(_ context.Context, n Notification) error {
	logger.Debug("notify: "+n.Message, "op_id", n.OpID, "level", n.Level)
	return nil
}
