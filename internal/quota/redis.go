package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "quota:generations:"
	// keyGrace keeps a day's counter readable for a while after midnight.
	keyGrace = time.Hour
)

// reserveScript atomically checks and increments a user's daily counter.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = seed (usage already in the ledger)
// ARGV[3] = expire at (unix seconds)
//
// Returns {granted, used_before}: granted is 1 when a slot was taken.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local seed = tonumber(ARGV[2])
local expire_at = tonumber(ARGV[3])

local cur = tonumber(redis.call("GET", key) or "0")
if seed > cur then
    cur = seed
end

if cur >= limit then
    return {0, cur}
end

redis.call("SET", key, cur + 1)
redis.call("EXPIREAT", key, expire_at)
return {1, cur}
`)

// releaseScript gives back one slot without going below zero.
var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur > 0 then
    redis.call("DECR", KEYS[1])
end
return 1
`)

// RedisCounter is a Counter shared by every instance behind the same Redis.
type RedisCounter struct {
	rdb redis.Cmdable
}

var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter creates a Redis-backed Counter.
func NewRedisCounter(rdb redis.Cmdable) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func counterKey(userID uuid.UUID, day time.Time) string {
	return keyPrefix + userID.String() + ":" + DayKey(day)
}

func (c *RedisCounter) Reserve(ctx context.Context, userID uuid.UUID, day time.Time, limit, seed int) (Reservation, error) {
	day = DayStart(day)
	expireAt := NextReset(day).Add(keyGrace)

	vals, err := reserveScript.Run(ctx, c.rdb,
		[]string{counterKey(userID, day)},
		limit, seed, expireAt.Unix(),
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserving generation: %w", err)
	}
	if len(vals) != 2 {
		return Reservation{}, fmt.Errorf("reserving generation: unexpected script result %v", vals)
	}

	res := Reservation{UserID: userID, Day: day, Limit: limit, Used: int(vals[1])}
	if vals[0] == 0 {
		return res, ErrExhausted
	}
	return res, nil
}

func (c *RedisCounter) Release(ctx context.Context, res Reservation) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{counterKey(res.UserID, res.Day)}).Err(); err != nil {
		return fmt.Errorf("releasing generation: %w", err)
	}
	return nil
}

func (c *RedisCounter) Current(ctx context.Context, userID uuid.UUID, day time.Time) (int, error) {
	n, err := c.rdb.Get(ctx, counterKey(userID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading generation counter: %w", err)
	}
	return n, nil
}
