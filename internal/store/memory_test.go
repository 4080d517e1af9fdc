package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizsim/internal/game"
)

func newSession(id string) *game.Session {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &game.Session{
		GameID:    id,
		Quarter:   game.StartingQuarter,
		Seed:      7,
		Market:    game.DefaultMarket(),
		Companies: map[string]game.CompanyLedger{"acme": game.NewCompanyLedger("acme", "Acme")},
		Seats:     map[string]game.Seat{"acme": {Kind: game.SeatHuman, Status: game.StatusPending}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newSession("g1")
	require.NoError(t, s.Put(ctx, sess))

	sess.Quarter = 99
	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, game.StartingQuarter, got.Quarter)

	got.Companies["acme"].Inventory[game.P1] = 0
	again, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), again.Companies["acme"].Inventory[game.P1])
}

func TestMemoryStoreWithLockCommitRules(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Missing session arrives as nil.
	err := s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
		assert.Nil(t, sess)
		return newSession("g1"), nil
	})
	require.NoError(t, err)

	// nil result leaves the record untouched.
	err = s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
		sess.Quarter = 5
		return nil, nil
	})
	require.NoError(t, err)
	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quarter)

	// An error aborts the write and is returned unchanged.
	boom := errors.New("boom")
	err = s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
		sess.Quarter = 6
		return sess, boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quarter)

	err = s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
		sess.Quarter = 2
		return sess, nil
	})
	require.NoError(t, err)
	got, err = s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quarter)
}

func TestMemoryStoreWithLockSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, newSession("g1")))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
				sess.Quarter++
				return sess, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1+workers, got.Quarter)
	assert.Zero(t, s.lockCount())
}

func TestMemoryStoreDropsIdleLocks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 100; i++ {
		err := s.WithLock(ctx, fmt.Sprintf("unknown-%d", i), func(sess *game.Session) (*game.Session, error) {
			assert.Nil(t, sess)
			return nil, game.ErrSessionNotFound
		})
		assert.ErrorIs(t, err, game.ErrSessionNotFound)
	}
	assert.Zero(t, s.lockCount())

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStoreListSorted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Put(ctx, newSession(id)))
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].GameID)
	assert.Equal(t, "bravo", list[1].GameID)
	assert.Equal(t, "charlie", list[2].GameID)
}

func TestMemoryStoreWithLockHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	called := false
	err := s.WithLock(ctx, "g1", func(*game.Session) (*game.Session, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
