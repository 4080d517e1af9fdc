package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bizsim/internal/game"
)

// CachedStore puts a Redis read-through cache in front of a primary
// repository. Writes go to the primary and invalidate the cached record; a
// Redis outage degrades to primary reads.
//
// Every commit bumps a per-game generation counter before deleting the cached
// record. A reader only fills the cache if the generation it saw before
// reading the primary is still current, so a read that raced a commit can
// never park a pre-commit record in Redis.
type CachedStore struct {
	primary game.Repository
	rdb     *redis.Client
	ttl     time.Duration
}

const generationTTL = 24 * time.Hour

// fillIfCurrent sets KEYS[1] only while KEYS[2] still holds ARGV[1].
var fillIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '') ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func NewCachedStore(primary game.Repository, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Get(ctx context.Context, gameID string) (*game.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(gameID)).Bytes()
	if err == nil {
		var sess game.Session
		if json.Unmarshal(data, &sess) == nil {
			return &sess, nil
		}
	}

	gen, genErr := s.generation(ctx, gameID)
	sess, err := s.primary.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		s.fill(ctx, sess, gen)
	}
	return sess, nil
}

func (s *CachedStore) Put(ctx context.Context, sess *game.Session) error {
	if err := s.primary.Put(ctx, sess); err != nil {
		return err
	}
	s.invalidate(ctx, sess.GameID)
	return nil
}

func (s *CachedStore) WithLock(ctx context.Context, gameID string, fn func(*game.Session) (*game.Session, error)) error {
	committed := false
	err := s.primary.WithLock(ctx, gameID, func(sess *game.Session) (*game.Session, error) {
		next, err := fn(sess)
		committed = err == nil && next != nil
		return next, err
	})
	if err != nil {
		return err
	}
	if committed {
		s.invalidate(ctx, gameID)
	}
	return nil
}

func (s *CachedStore) List(ctx context.Context) ([]game.Session, error) {
	return s.primary.List(ctx)
}

func (s *CachedStore) generation(ctx context.Context, gameID string) (string, error) {
	gen, err := s.rdb.Get(ctx, generationKey(gameID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

func (s *CachedStore) fill(ctx context.Context, sess *game.Session, gen string) bool {
	data, err := json.Marshal(sess)
	if err != nil {
		return false
	}
	keys := []string{sessionKey(sess.GameID), generationKey(sess.GameID)}
	n, err := fillIfCurrent.Run(ctx, s.rdb, keys, gen, data, s.ttl.Milliseconds()).Int()
	return err == nil && n == 1
}

func (s *CachedStore) invalidate(ctx context.Context, gameID string) {
	_, _ = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(gameID))
		pipe.Expire(ctx, generationKey(gameID), generationTTL)
		pipe.Del(ctx, sessionKey(gameID))
		return nil
	})
}

func sessionKey(gameID string) string { return fmt.Sprintf("bizsim:session:%s", gameID) }

func generationKey(gameID string) string { return fmt.Sprintf("bizsim:session-gen:%s", gameID) }
