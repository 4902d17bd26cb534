package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

const keyPrefix = "collisions:lock:"

// releaseScript deletes the lock only while it still carries our token, so an
// expired lease re-acquired by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis holds leases in Redis so runs in separate processes exclude each other.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed lock table with the given lease length.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Acquire sets key with NX and a lease; a held key returns domain.ErrLocked.
func (r *Redis) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	token := uuid.NewString()
	full := keyPrefix + key

	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLocked, key)
	}

	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, r.client, []string{full}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
