package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"veriflow/internal/verification/models"
)

const outcomeKeyPrefix = "vfy:outcome:"

// RedisOutcomeStore shares outcomes across instances. An optional TTL bounds
// retention; zero means keys never expire.
type RedisOutcomeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisOutcomeStore.
type RedisOption func(*RedisOutcomeStore)

// WithTTL sets an expiry on stored outcomes.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisOutcomeStore) { s.ttl = ttl }
}

func NewRedisOutcomeStore(client *redis.Client, opts ...RedisOption) *RedisOutcomeStore {
	s := &RedisOutcomeStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisOutcomeStore) Put(ctx context.Context, sessionID string, outcome models.Outcome) error {
	outcome.SessionID = sessionID
	outcome.UpdatedAt = time.Now()
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := s.client.Set(ctx, outcomeKeyPrefix+sessionID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store outcome: %w", err)
	}
	return nil
}

func (s *RedisOutcomeStore) Get(ctx context.Context, sessionID string) (models.Outcome, error) {
	payload, err := s.client.Get(ctx, outcomeKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Outcome{}, ErrNotFound
		}
		return models.Outcome{}, fmt.Errorf("load outcome: %w", err)
	}
	var outcome models.Outcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return models.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}
