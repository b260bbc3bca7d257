package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends events to Redis streams, capped at MaxLen entries each.
type Publisher struct {
	client redis.Cmdable
	maxLen int64
}

func NewPublisher(client redis.Cmdable) *Publisher {
	return &Publisher{client: client, maxLen: 100_000}
}

// WithMaxLen overrides the approximate per-stream length cap.
func (p *Publisher) WithMaxLen(n int64) *Publisher {
	if n > 0 {
		p.maxLen = n
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
