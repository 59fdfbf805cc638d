package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Compare-and-delete so a holder never removes a lease that expired and was
// taken over by another instance.
var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Redis is a Locker shared by every instance using the same Redis.
type Redis struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedis(client goredis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "postwise:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	full := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, nil
}
