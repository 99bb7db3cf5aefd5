package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes each notification as JSON on the channel
// notify:<userId> for a delivery worker to pick up.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisNotifier{client: client}, nil
}

// RedisChannel is the pub/sub channel notifications for userID go to.
func RedisChannel(userID uuid.UUID) string {
	return "notify:" + userID.String()
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := n.encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, RedisChannel(n.UserID), data).Err()
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
