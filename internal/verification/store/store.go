// Package store provides keyed persistence for verification outcomes. The
// store is a dumb cache: forward-only transition checks belong to the
// reconciler, not here.
package store

import (
	"context"

	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
)

// ErrNotFound keeps store-specific misses consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "no outcome stored for session")

// OutcomeStore maps a session identifier to the latest known outcome.
// Concurrent writers to the same key are last-write-wins.
type OutcomeStore interface {
	Put(ctx context.Context, sessionID string, outcome models.Outcome) error
	Get(ctx context.Context, sessionID string) (models.Outcome, error)
}
