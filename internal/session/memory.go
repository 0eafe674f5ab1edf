package session

import (
	"context"
	"sync"
	"time"

	"twingate/internal/domain"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*domain.Session
	idle     time.Duration
	now      Clock
}

// NewMemoryStore creates an in-memory store with the given idle timeout
func NewMemoryStore(idle time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(idle, time.Now)
}

// NewMemoryStoreWithClock creates an in-memory store with a custom clock
func NewMemoryStoreWithClock(idle time.Duration, now Clock) *MemoryStore {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &MemoryStore{
		sessions: make(map[int64]*domain.Session),
		idle:     idle,
		now:      now,
	}
}

// Get returns a copy of the user's session, evicting it if idle
func (m *MemoryStore) Get(_ context.Context, userID int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.load(userID, m.now())
	return s.Clone(), nil
}

// Upsert merges patch into the user's session
func (m *MemoryStore) Upsert(ctx context.Context, userID int64, patch domain.Patch) (*domain.Session, error) {
	return m.Update(ctx, userID, func(s *domain.Session) error {
		patch.Apply(s)
		return nil
	})
}

// Update applies fn under the store lock
func (m *MemoryStore) Update(_ context.Context, userID int64, fn UpdateFunc) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current := m.load(userID, now)
	if current == nil {
		current = domain.NewSession(userID, now)
	}

	// work on a copy so a failing fn leaves the stored record untouched
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UserID = userID
	next.LastActivity = now
	m.sessions[userID] = next

	return next.Clone(), nil
}

// Delete removes the user's session
func (m *MemoryStore) Delete(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok, nil
}

// Len returns the number of stored sessions, idle ones included until swept
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// Sweep evicts every idle session
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if expired(s, now, m.idle) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// load returns the live record, evicting it when idle. Caller holds mu.
func (m *MemoryStore) load(userID int64, now time.Time) *domain.Session {
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if expired(s, now, m.idle) {
		delete(m.sessions, userID)
		return nil
	}
	return s
}
