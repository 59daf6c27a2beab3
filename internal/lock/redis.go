package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 2 * time.Minute

// releaseScript deletes the key only while it still carries our value, so a
// holder whose lock expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every instance pointed at the same server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to addr. Keys are stored as "survey-access:lock:<key>".
func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "survey-access:lock:",
		ttl:    ttl,
		logger: logger,
	}
}

// Ping checks connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lock: redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	owner := xid.New().String()

	ok, err := r.client.SetNX(ctx, k, owner, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis SETNX %s: %w", k, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{k}, owner).Err(); err != nil {
				r.logger.Warn("releasing redis lock failed",
					slog.String("key", k),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}
