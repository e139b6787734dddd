package store

import (
	"context"
	"sync"
	"time"

	"veriflow/internal/verification/models"
)

// InMemoryOutcomeStore is the default store. Outcomes live for the process
// lifetime; durability across restarts is handled by the Redis or Postgres
// stores when configured.
type InMemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes map[string]models.Outcome
}

func NewInMemoryOutcomeStore() *InMemoryOutcomeStore {
	return &InMemoryOutcomeStore{outcomes: make(map[string]models.Outcome)}
}

func (s *InMemoryOutcomeStore) Put(_ context.Context, sessionID string, outcome models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome.SessionID = sessionID
	outcome.UpdatedAt = time.Now()
	s.outcomes[sessionID] = outcome
	return nil
}

func (s *InMemoryOutcomeStore) Get(_ context.Context, sessionID string) (models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if outcome, ok := s.outcomes[sessionID]; ok {
		return outcome, nil
	}
	return models.Outcome{}, ErrNotFound
}
