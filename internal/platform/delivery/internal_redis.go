package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultInternalChannel = "waitlist:staff"

// RedisInternalSender publishes staff messages on a Redis channel that the
// front-desk tooling subscribes to.
type RedisInternalSender struct {
	client  redis.Cmdable
	channel string
}

func NewRedisInternalSender(client redis.Cmdable, channel string) *RedisInternalSender {
	if channel == "" {
		channel = DefaultInternalChannel
	}
	return &RedisInternalSender{client: client, channel: channel}
}

type internalEvent struct {
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

func (s *RedisInternalSender) SendInternal(ctx context.Context, recipientID, body string) error {
	payload, err := json.Marshal(internalEvent{
		RecipientID: recipientID,
		Body:        body,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode internal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}
