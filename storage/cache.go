package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// genTTL bounds how long an idle board keeps its generation counter.
const genTTL = 24 * time.Hour

// storeIfCurrent writes the snapshot only while the board generation still
// matches the one read before the snapshot was built.
var storeIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

type viewer interface {
	Get(ctx context.Context, boardID string) (*domain.BoardSnapshot, error)
}

// Cache wraps a board view with Redis-backed caching of rendered snapshots.
//
// Every change bumps a per-board generation. A snapshot is cached only if
// the generation did not move while it was read, so a read racing a
// mutation can never put the pre-mutation board back after eviction.
type Cache struct {
	base  viewer
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching view wrapper using the provided Redis client and TTL.
func NewCache(base viewer, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base view is nil")
	}
	switch {
	case ttl < 0:
		ttl = 0
	case ttl > 0 && ttl < time.Millisecond:
		ttl = time.Millisecond
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, boardID string) (*domain.BoardSnapshot, error) {
	if snap, ok := c.load(ctx, boardID); ok {
		return snap, nil
	}

	gen, genOK := c.generation(ctx, boardID)
	snap, err := c.base.Get(ctx, boardID)
	if err != nil {
		return nil, err
	}

	// Snapshots with gaps are about to be repaired; never cache them.
	if genOK && !snap.NeedsRepair {
		c.store(ctx, boardID, gen, snap)
	}
	return snap, nil
}

// NotifyBoardChanged bumps the board generation and evicts the cached
// snapshot.
func (c *Cache) NotifyBoardChanged(ctx context.Context, boardID, actorID string) error {
	if c.redis == nil {
		return nil
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, boardGenKey(boardID))
		pipe.Expire(ctx, boardGenKey(boardID), genTTL)
		pipe.Del(ctx, boardCacheKey(boardID))
		return nil
	})
	return err
}

func (c *Cache) load(ctx context.Context, boardID string) (*domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing view without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var snap domain.BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	return &snap, true
}

// generation returns the board's current change counter. ok is false when
// it cannot be read, in which case nothing may be cached.
func (c *Cache) generation(ctx context.Context, boardID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, boardGenKey(boardID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		return "", false
	}
	return gen, true
}

func (c *Cache) store(ctx context.Context, boardID, gen string, snap *domain.BoardSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	keys := []string{boardGenKey(boardID), boardCacheKey(boardID)}
	stored, err := storeIfCurrent.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		log.WithField("board", boardID).WithError(err).Debug("cache board view")
		return
	}
	if stored == 0 {
		log.WithField("board", boardID).Debug("board changed while reading, snapshot not cached")
	}
}

// Keys share a hash tag so the script touches a single cluster slot.
func boardCacheKey(boardID string) string {
	return "board:{" + boardID + "}"
}

func boardGenKey(boardID string) string {
	return "board:{" + boardID + "}:gen"
}
