// Package state persists status cursors and transition records so restarts
// and repeated observations never produce duplicate notifications.
package state

import (
	"context"
	"errors"

	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// ErrTransitionExists is returned by AppendTransition when a record for the
// same (ticket id, status) pair was already written. Callers treat it as a
// successful idempotent no-op, not a failure.
var ErrTransitionExists = errors.New("state: transition record already exists")

// Store is the persistence gateway for detector and dispatcher state.
//
// AppendTransition must be conditional: the existence check and the write are
// one atomic operation at the backing store, closing the race between two
// concurrent dispatch attempts for the same transition.
type Store interface {
	// Cursor returns the last-observed status for a ticket id.
	Cursor(ctx context.Context, ticketID string) (ticket.StatusCursor, bool, error)
	// SetCursor upserts a ticket's last-observed status. Cursors are never
	// deleted.
	SetCursor(ctx context.Context, cur ticket.StatusCursor) error
	// HasTransition reports whether a transition record exists for the
	// (ticket id, normalized status) pair.
	HasTransition(ctx context.Context, ticketID, status string) (bool, error)
	// AppendTransition writes a transition record, failing with
	// ErrTransitionExists if one is already present for the same pair.
	AppendTransition(ctx context.Context, rec ticket.TransitionRecord) error
	// Close releases the store's resources.
	Close() error
}
