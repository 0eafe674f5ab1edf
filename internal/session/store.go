// Package session keeps per-user bot sessions.
//
// Sessions expire after an idle timeout. Expiry happens lazily on Get and
// eagerly in Sweep, and both use the same timeout.
package session

import (
	"context"
	"time"

	"twingate/internal/domain"
)

// DefaultIdleTimeout is how long a session survives without activity
const DefaultIdleTimeout = 24 * time.Hour

// UpdateFunc mutates a session inside the store's critical section.
// Returning an error aborts the update and nothing is written.
type UpdateFunc func(s *domain.Session) error

// Store is the session storage contract the bot depends on
type Store interface {
	// Get returns the session or nil if it is absent or idle-expired
	Get(ctx context.Context, userID int64) (*domain.Session, error)
	// Upsert creates or merges a session and refreshes its activity time
	Upsert(ctx context.Context, userID int64, patch domain.Patch) (*domain.Session, error)
	// Update atomically applies fn to the (possibly new) session
	Update(ctx context.Context, userID int64, fn UpdateFunc) (*domain.Session, error)
	// Delete removes a session and reports whether it existed
	Delete(ctx context.Context, userID int64) (bool, error)
	// Len returns the number of stored sessions
	Len(ctx context.Context) (int, error)
	// Sweep evicts idle sessions and returns how many were removed
	Sweep(ctx context.Context) (int, error)
}

// Clock returns the current time
type Clock func() time.Time

func expired(s *domain.Session, now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity) > idle
}
