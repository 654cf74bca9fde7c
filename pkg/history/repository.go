// Package history persists completed session records and serves them
// back for listing, replay and search. Three backends implement the
// same Repository interface: local JSON files, MongoDB and PostgreSQL.
package history

import (
	"context"
	"errors"

	"github.com/solvr-ai/solvr/pkg/models"
)

// ErrNotFound is returned when no record exists for a session id.
var ErrNotFound = errors.New("session record not found")

// Repository is the persistence gateway for session records.
type Repository interface {
	// Save stores or replaces the record keyed by its SessionID.
	Save(ctx context.Context, record *models.SessionRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.SessionRecord, error)

	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]*models.SessionRecord, error)

	// Search returns records whose query, final answer or any event
	// content contains text (case-insensitive), newest first.
	Search(ctx context.Context, text string) ([]*models.SessionRecord, error)

	// Delete removes the record for id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
