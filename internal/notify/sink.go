package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/model"
	redisclient "github.com/studyforge/gateway/internal/redis"
)

// Event is the message pushed to a researcher's notification channel.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func EventFromNotification(n *model.Notification) Event {
	return Event{
		ID:        n.ID,
		Type:      n.Type,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	}
}

// Sink delivers notifications to researchers.
type Sink interface {
	Publish(ctx context.Context, recipientID string, event Event) error
}

// RedisSink publishes on the recipient's pub/sub channel.
type RedisSink struct {
	redis *redisclient.Client
}

var _ Sink = (*RedisSink)(nil)

func NewRedisSink(client *redisclient.Client) *RedisSink {
	return &RedisSink{redis: client}
}

func (s *RedisSink) Publish(ctx context.Context, recipientID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, redisclient.NotificationChannel(recipientID), data).Err()
}

// Subscribe streams events for recipientID until ctx is cancelled.
func (s *RedisSink) Subscribe(ctx context.Context, recipientID string) <-chan Event {
	channel := redisclient.NotificationChannel(recipientID)
	pubsub := s.redis.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so events published right
	// after Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("notification subscribe not confirmed")
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal notification")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
