package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis connection settings for the shared window store.
const (
	// RedisReadTimeout bounds a single Redis read.
	RedisReadTimeout = 5 * time.Second

	// RedisWriteTimeout matches the read timeout.
	RedisWriteTimeout = 5 * time.Second

	// RedisPoolSize is sized for moderate concurrent load across instances.
	RedisPoolSize = 10

	// DefaultRedisPrefix namespaces window keys.
	DefaultRedisPrefix = "convgen:rl:"
)

// admitScript prunes the sorted set, then adds the member only while the
// window has capacity. Scores are Unix milliseconds.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local used = redis.call('ZCARD', key)
local admitted = 0
if used < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	used = used + 1
	admitted = 1
end

local oldest = -1
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #head == 2 then
	oldest = tonumber(head[2])
end
return {admitted, used, oldest}
`)

var peekScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local used = redis.call('ZCARD', key)
local oldest = -1
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #head == 2 then
	oldest = tonumber(head[2])
end
return {0, used, oldest}
`)

// RedisStore is a WindowStore backed by one Redis sorted set per key, so
// several processes share the same window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis parses url, applies pool and timeout settings and verifies the
// connection with a ping.
func DialRedis(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.ReadTimeout = RedisReadTimeout
	opts.WriteTimeout = RedisWriteTimeout
	opts.PoolSize = RedisPoolSize

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, RedisReadTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (s *RedisStore) key(key string) string { return s.prefix + key }

// Admit runs the admission script atomically on the server.
func (s *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Decision, error) {
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	res, err := admitScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis admit for %q: %w", key, err)
	}
	return decodeDecision(res)
}

// Peek reports the window without recording anything.
func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Decision, error) {
	res, err := peekScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis peek for %q: %w", key, err)
	}
	return decodeDecision(res)
}

// Reset deletes the sorted set for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis reset for %q: %w", key, err)
	}
	return nil
}

// Clear deletes every key under the store prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis clear: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis clear scan: %w", err)
	}
	return nil
}

// Sweep is a no-op; every sorted set carries a PEXPIRE of one window.
func (s *RedisStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}

func decodeDecision(res []int64) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected redis window reply %v", res)
	}
	d := Decision{Admitted: res[0] == 1, Used: int(res[1])}
	if res[2] >= 0 {
		d.Oldest = time.UnixMilli(res[2])
	}
	return d, nil
}
