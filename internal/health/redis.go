package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors account cooldown deadlines into Redis so multiple
// missionrelayd replicas agree on which accounts are in cooldown. Only the
// cooldown deadline is shared; latency samples, token counters, and
// fallback history stay process-local.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string        // default "missionrelay:health"
	OpTimeout  time.Duration // default 500ms, per-call deadline
}

// NewRedisStore dials Redis and verifies connectivity with a Ping.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "missionrelay:health"
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("health: connecting to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: opts.KeyPrefix, opTimeout: opts.OpTimeout}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, for tests
// that point at a miniredis instance.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "missionrelay:health"
	}
	return &RedisStore{client: client, prefix: keyPrefix, opTimeout: 500 * time.Millisecond}
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + ":cooldown:" + accountID
}

// SetCooldown stores notBefore as a Unix-millisecond value with a TTL
// matching its own remaining lifetime, so stale keys self-expire.
func (s *RedisStore) SetCooldown(accountID string, notBefore time.Time) {
	ttl := time.Until(notBefore)
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	_ = s.client.Set(ctx, s.key(accountID), notBefore.UnixMilli(), ttl).Err()
}

// ClearCooldown removes any stored cooldown for accountID.
func (s *RedisStore) ClearCooldown(accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	_ = s.client.Del(ctx, s.key(accountID)).Err()
}

// GetCooldown returns the stored not-before deadline, if any. A missing
// key is (zero, false, nil); any other Redis error is returned so the
// caller can decide whether to fall back to local state.
func (s *RedisStore) GetCooldown(accountID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(accountID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("health: reading cooldown for %s: %w", accountID, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("health: parsing cooldown for %s: %w", accountID, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
