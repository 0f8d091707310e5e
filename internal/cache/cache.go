package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RevokedEntry — данные об отозванном refresh-токене, которые мы храним
// в Redis по его хэшу. Запись появляется только в момент отзыва (logout,
// ротация), поэтому попадание по ключу — достоверный сигнал повторного
// предъявления уже недействительного токена.
type RevokedEntry struct {
	UserID    uuid.UUID
	RevokedAt time.Time
}

// RevokedCache — опциональный denylist отозванных refresh-токенов.
// Служит быстрым отсечением replay-штормов до похода в БД; авторитетным
// источником состояния токена остаётся хранилище.
type RevokedCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RevokedEntry, bool, error)
	// Set сохраняет запись с TTL (обычно остаток жизни токена).
	Set(ctx context.Context, hash string, e *RevokedEntry, ttl time.Duration) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:deny:".
func NewRedisCache(redisURL, prefix string) (RevokedCache, error) {
	if prefix == "" {
		prefix = "auth:deny:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(hash string) string { return c.prefix + hash }

// Храним как Redis Hash с полями: uid, rts (unix-время отзыва).
func (c *redisCache) Get(ctx context.Context, hash string) (*RevokedEntry, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	uid, err := uuid.Parse(m["uid"])
	if err != nil {
		return nil, false, err
	}

	rtsUnix, err := strconv.ParseInt(m["rts"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	return &RevokedEntry{
		UserID:    uid,
		RevokedAt: time.Unix(rtsUnix, 0).UTC(),
	}, true, nil
}

func (c *redisCache) Set(ctx context.Context, hash string, e *RevokedEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	kv := map[string]string{
		"uid": e.UserID.String(),
		"rts": strconv.FormatInt(e.RevokedAt.Unix(), 10),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Close() error { return c.rdb.Close() }
