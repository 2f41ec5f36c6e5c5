// Package session persists ingestion sessions and runs their pipelines in
// the background.
package session

import (
	"context"
	"errors"

	"github.com/dvloznov/statement-ledger/internal/pipeline"
)

// ErrNotFound is returned when no session exists for an ID.
var ErrNotFound = errors.New("session not found")

// Store saves and retrieves session state across requests and restarts.
type Store interface {
	// Save creates or replaces the session with st.ID.
	Save(ctx context.Context, st pipeline.State) error

	// Get returns the session, or ErrNotFound.
	Get(ctx context.Context, id string) (pipeline.State, error)

	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]pipeline.State, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}
