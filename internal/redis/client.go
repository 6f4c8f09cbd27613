package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(c *redis.Client) *Client {
	return &Client{c}
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func NotificationChannel(recipientID string) string {
	return fmt.Sprintf("notifications:%s", recipientID)
}

func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, subject)
}
