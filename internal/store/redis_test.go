package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizsim/internal/game"
)

// unreachableRedis points at a port nothing listens on, so every cache call
// fails fast.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCachedStoreDegradesWithoutRedis(t *testing.T) {
	ctx := context.Background()
	rdb := unreachableRedis()
	defer rdb.Close()

	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	require.NoError(t, s.Put(ctx, newSession("g1")))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GameID)

	err = s.WithLock(ctx, "g1", func(sess *game.Session) (*game.Session, error) {
		sess.Quarter = 3
		return sess, nil
	})
	require.NoError(t, err)

	got, err = s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quarter)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("BIZSIM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BIZSIM_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func testGameID(t *testing.T, rdb *redis.Client) string {
	t.Helper()
	id := "cache-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rdb.Del(context.Background(), sessionKey(id), generationKey(id)) })
	return id
}

// racingRepo runs onGet once, after the primary read returns and before the
// caller sees the record.
type racingRepo struct {
	game.Repository
	onGet func()
}

func (r *racingRepo) Get(ctx context.Context, gameID string) (*game.Session, error) {
	sess, err := r.Repository.Get(ctx, gameID)
	if hook := r.onGet; hook != nil {
		r.onGet = nil
		hook()
	}
	return sess, err
}

func TestCachedStoreInvalidatesOnCommit(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	id := testGameID(t, rdb)
	require.NoError(t, s.Put(ctx, newSession(id)))

	// Populate the cache.
	_, err := s.Get(ctx, id)
	require.NoError(t, err)
	n, err := rdb.Exists(ctx, sessionKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.WithLock(ctx, id, func(sess *game.Session) (*game.Session, error) {
		sess.Quarter = 4
		return sess, nil
	}))
	n, err = rdb.Exists(ctx, sessionKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quarter)
}

func TestCachedStoreSkipsFillRacingCommit(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	primary := &racingRepo{Repository: NewMemoryStore()}
	s := NewCachedStore(primary, rdb, time.Minute)
	id := testGameID(t, rdb)
	require.NoError(t, s.Put(ctx, newSession(id)))

	// The cache misses, the primary hands back quarter 1, then a tick commits
	// quarter 2 before the reader fills the cache.
	primary.onGet = func() {
		require.NoError(t, s.WithLock(ctx, id, func(sess *game.Session) (*game.Session, error) {
			sess.Quarter = 2
			return sess, nil
		}))
	}
	stale, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.Quarter)

	n, err := rdb.Exists(ctx, sessionKey(id)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "a pre-commit read must not fill the cache")

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quarter)

	cached, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Quarter)
}

func TestCachedStoreFillRequiresCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	id := testGameID(t, rdb)

	gen, err := s.generation(ctx, id)
	require.NoError(t, err)
	s.invalidate(ctx, id)
	assert.False(t, s.fill(ctx, newSession(id), gen))

	gen, err = s.generation(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.fill(ctx, newSession(id), gen))
}
