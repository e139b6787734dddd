package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"veriflow/internal/verification/models"
)

// Schema expected by PostgresOutcomeStore:
//
//	CREATE TABLE IF NOT EXISTS verification_outcomes (
//	    session_id TEXT PRIMARY KEY,
//	    outcome    JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);

// PostgresOutcomeStore persists outcomes across restarts. Opt-in; the
// in-memory store remains the default.
type PostgresOutcomeStore struct {
	pool *pgxpool.Pool
}

func NewPostgresOutcomeStore(pool *pgxpool.Pool) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{pool: pool}
}

// EnsureSchema creates the outcomes table if it does not exist yet.
func (s *PostgresOutcomeStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_outcomes (
			session_id TEXT PRIMARY KEY,
			outcome    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure outcomes schema: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) Put(ctx context.Context, sessionID string, outcome models.Outcome) error {
	outcome.SessionID = sessionID
	outcome.UpdatedAt = time.Now()
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verification_outcomes (session_id, outcome, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		SET outcome = EXCLUDED.outcome, updated_at = EXCLUDED.updated_at`,
		sessionID, payload, outcome.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store outcome: %w", err)
	}
	return nil
}

func (s *PostgresOutcomeStore) Get(ctx context.Context, sessionID string) (models.Outcome, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT outcome FROM verification_outcomes WHERE session_id = $1`,
		sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
