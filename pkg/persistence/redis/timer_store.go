// Package redis provides a Redis-backed durable timer store.
//
// Timers live in a sorted set scored by due time (unix milliseconds) with the
// conversation id as member; wait tokens live in a companion hash.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "convoflow:"

// TimerStore implements persistence.TimerStore on Redis.
type TimerStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewTimerStore connects to the Redis server at url (redis://host:port/db).
func NewTimerStore(ctx context.Context, url, keyPrefix string) (*TimerStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewTimerStoreWithClient(client, keyPrefix), nil
}

// NewTimerStoreWithClient wraps an existing client.
func NewTimerStoreWithClient(client *redis.Client, keyPrefix string) *TimerStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &TimerStore{client: client, keyPrefix: keyPrefix}
}

func (s *TimerStore) dueKey() string {
	return s.keyPrefix + "timers:due"
}

func (s *TimerStore) tokenKey() string {
	return s.keyPrefix + "timers:token"
}

// SaveTimer replaces any pending timer of the conversation.
func (s *TimerStore) SaveTimer(ctx context.Context, timer *models.Timer) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(timer.DueAt.UnixMilli()), Member: timer.ConversationID})
	pipe.HSet(ctx, s.tokenKey(), timer.ConversationID, timer.Token)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save timer of %s: %w", timer.ConversationID, err)
	}

	return nil
}

func (s *TimerStore) DeleteTimer(ctx context.Context, conversationID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.dueKey(), conversationID)
	pipe.HDel(ctx, s.tokenKey(), conversationID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete timer of %s: %w", conversationID, err)
	}

	return nil
}

// Timers returns every pending timer ordered by due time.
func (s *TimerStore) Timers(ctx context.Context) ([]*models.Timer, error) {
	due, err := s.client.ZRangeWithScores(ctx, s.dueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}

	out := make([]*models.Timer, 0, len(due))
	if len(due) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(due))
	for _, z := range due {
		ids = append(ids, fmt.Sprint(z.Member))
	}

	tokens, err := s.client.HMGet(ctx, s.tokenKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load timer tokens: %w", err)
	}

	for i, z := range due {
		token, _ := tokens[i].(string)

		out = append(out, &models.Timer{
			ConversationID: ids[i],
			Token:          token,
			DueAt:          time.UnixMilli(int64(z.Score)).UTC(),
		})
	}

	return out, nil
}

// HealthCheck pings the server.
func (s *TimerStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *TimerStore) Close(_ context.Context) error {
	return s.client.Close()
}
