package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb *redis.Client
}

// incrScript атомарно инкрементирует счётчик и гарантирует ему TTL.
// PTTL < 0 означает ключ без срока жизни (новое окно либо осиротевший
// счётчик после сбоя между INCR и EXPIRE в старых версиях) — в обоих
// случаях окно стартует заново. Возвращает {count, pttl_ms}.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// NewRedisStore создаёт CounterStore поверх Redis (URL вида redis://:pass@host:6379/0).
// Счётчик и TTL окна выставляются одним Lua-скриптом; PTTL — остаток окна для retry_after.
func NewRedisStore(redisURL string) (CounterStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisStore{rdb: rdb}, nil
}

func (s *redisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	const op = "ratelimit.redis.Incr"

	res, err := incrScript.Run(ctx, s.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%s: unexpected script reply", op)
	}

	count := res[0]
	ttl := time.Duration(res[1]) * time.Millisecond

	return count, ttl, nil
}

func (s *redisStore) Reset(ctx context.Context, key string) error {
	const op = "ratelimit.redis.Reset"

	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
