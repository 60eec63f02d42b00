package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus publishes events over Redis pub/sub so every api-server replica
// sees queue updates made by the others.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, EventsChannel(ev.Type), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if ev.Type == QueuePositionUpdate {
		if err := b.client.Publish(ctx, QueueChannel(ev.DoctorID, ev.Date), data).Err(); err != nil {
			return fmt.Errorf("publish queue update: %w", err)
		}
	}
	return nil
}

// Subscribe opens one Redis subscription per caller; it is closed with ctx.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Str("channel", channel).Msg("drop malformed event")
					continue
				}
				select {
				case out <- ev:
				default:
					b.log.Warn().Str("channel", channel).Msg("subscriber full, dropping event")
				}
			}
		}
	}()

	return out, nil
}
