// Package store implements game.Repository. PostgreSQL is the durable
// backend, Redis a read-through cache in front of it, and the in-memory
// store serves development and tests.
package store

import (
	"context"
	"sort"
	"sync"

	"bizsim/internal/game"
)

// MemoryStore keeps sessions in process memory. Every read and write copies
// the session so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session

	locksMu sync.Mutex
	locks   map[string]*gameLock
}

// gameLock is dropped from the map once nobody holds or waits on it.
type gameLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*game.Session),
		locks:    make(map[string]*gameLock),
	}
}

func (s *MemoryStore) Get(_ context.Context, gameID string) (*game.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[gameID]
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, sess *game.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.GameID] = sess.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]game.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]game.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out, nil
}

func (s *MemoryStore) acquire(gameID string) *gameLock {
	s.locksMu.Lock()
	l, ok := s.locks[gameID]
	if !ok {
		l = &gameLock{}
		s.locks[gameID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *MemoryStore) release(gameID string, l *gameLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, gameID)
	}
}

func (s *MemoryStore) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

// WithLock serializes fn per game id. The committed session is swapped in
// whole, so concurrent readers see either the old or the new record.
func (s *MemoryStore) WithLock(ctx context.Context, gameID string, fn func(*game.Session) (*game.Session, error)) error {
	l := s.acquire(gameID)
	defer s.release(gameID, l)

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	current := s.sessions[gameID].Clone()
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	s.mu.Lock()
	s.sessions[gameID] = next.Clone()
	s.mu.Unlock()
	return nil
}
