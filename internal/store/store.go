// Package store defines the session table: the single owner of every
// channel's session for the lifetime of the process.
package store

import (
	"context"
	"errors"

	"github.com/tablecash/cashier/internal/model"
)

// ErrNotFound is returned when no session exists for a channel.
var ErrNotFound = errors.New("store: session not found")

// Store is the session table keyed by channel id. Implementations must hand
// out copies: a caller mutating a returned session never affects the
// stored one until it is written back with PutSession.
type Store interface {
	// GetSession returns the session for a channel or ErrNotFound.
	GetSession(ctx context.Context, channelID string) (*model.Session, error)

	// PutSession stores a fully constructed session, replacing any prior
	// session for the same channel.
	PutSession(ctx context.Context, session *model.Session) error

	// DeleteSession removes a channel's session. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context, channelID string) error

	// ListSessions enumerates all sessions for diagnostics.
	ListSessions(ctx context.Context) ([]model.Session, error)
}
