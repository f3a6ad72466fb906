package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// RedisFeed stores each feed as a capped Redis list, newest entry at the head.
type RedisFeed struct {
	client   redis.Cmdable
	prefix   string
	capacity int
}

func NewRedisFeed(client redis.Cmdable, prefix string, capacity int) *RedisFeed {
	if capacity <= 0 {
		capacity = DefaultLimit
	}
	return &RedisFeed{client: client, prefix: prefix, capacity: capacity}
}

func (r *RedisFeed) Append(ctx context.Context, ns ...models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, n := range ns {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		k := r.prefix + key(n)
		pipe.LPush(ctx, k, b)
		pipe.LTrim(ctx, k, 0, int64(r.capacity-1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisFeed) List(ctx context.Context, userID int64, role models.Role, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > r.capacity {
		limit = r.capacity
	}
	own, err := r.read(ctx, r.prefix+userKey(userID), limit)
	if err != nil {
		return nil, err
	}
	var broadcast []models.Notification
	if role != "" {
		if broadcast, err = r.read(ctx, r.prefix+roleKey(role), limit); err != nil {
			return nil, err
		}
	}
	return merge(limit, own, broadcast), nil
}

func (r *RedisFeed) read(ctx context.Context, k string, limit int) ([]models.Notification, error) {
	raw, err := r.client.LRange(ctx, k, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", k, err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, s := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
