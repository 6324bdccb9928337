package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisStore implements Store using Redis so several instances share one budget
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-based store
func NewRedisStore(host string, port int, password string, db int, timeout time.Duration) (*RedisStore, error) {
	log.Info().
		Str("host", host).
		Int("port", port).
		Int("db", db).
		Dur("timeout", timeout).
		Msg("Attempting to connect to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// incrementScript counts a hit and opens the window on the first one, in a
// single round trip so a counter never outlives its window.
var incrementScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	hits, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("Failed to increment throttle counter in Redis")
		return 0, err
	}
	return int(hits), nil
}

func (s *RedisStore) Close() error {
	log.Info().Msg("Closing Redis connection")
	return s.client.Close()
}
