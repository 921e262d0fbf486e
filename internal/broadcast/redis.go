// Package broadcast delivers collaboration events to document members.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chronicle/collab/internal/collab"
)

const (
	defaultChannelPrefix = "collab:doc:"
	defaultBacklogPrefix = "collab:recent:"
	defaultBacklogSize   = 200
	defaultBacklogTTL    = 24 * time.Hour
)

// RedisPublisher publishes each event on a per-document channel and keeps a
// short backlog list so reconnecting clients can catch up.
type RedisPublisher struct {
	client        *redis.Client
	channelPrefix string
	backlogPrefix string
	backlogSize   int64
	backlogTTL    time.Duration
}

func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisPublisherWithClient(client), nil
}

func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client:        client,
		channelPrefix: defaultChannelPrefix,
		backlogPrefix: defaultBacklogPrefix,
		backlogSize:   defaultBacklogSize,
		backlogTTL:    defaultBacklogTTL,
	}
}

func (p *RedisPublisher) Channel(documentID string) string {
	return p.channelPrefix + documentID
}

func (p *RedisPublisher) Publish(ctx context.Context, event collab.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	backlog := p.backlogPrefix + event.DocumentID

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.Channel(event.DocumentID), payload)
	pipe.LPush(ctx, backlog, payload)
	pipe.LTrim(ctx, backlog, 0, p.backlogSize-1)
	pipe.Expire(ctx, backlog, p.backlogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Recent returns up to limit backlog events for a document, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, documentID string, limit int64) ([]collab.Event, error) {
	if limit <= 0 || limit > p.backlogSize {
		limit = p.backlogSize
	}
	raw, err := p.client.LRange(ctx, p.backlogPrefix+documentID, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}
	events := make([]collab.Event, 0, len(raw))
	for _, item := range raw {
		var event collab.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decode backlog event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Subscribe streams a document's live events until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, documentID string) (<-chan collab.Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(documentID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan collab.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event collab.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
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
	return out, nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
