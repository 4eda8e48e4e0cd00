package checkpoint

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// RedisConfig configures the Redis snapshot backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all snapshot keys (e.g., "dfgflow:snapshots:")
	Prefix string

	// TTL is the time-to-live for snapshot keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "dfgflow:snapshots:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores snapshots in Redis. Keys are tracked in a set so
// that List does not need SCAN.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	b := &RedisBackend{cfg: cfg, client: client}
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "connect to Redis").WithContext("address", cfg.Address)
	}
	return b, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) sourceKey(source string) string {
	return b.cfg.Prefix + "source:" + sanitizeKey(source)
}

func (b *RedisBackend) indexKey() string {
	return b.cfg.Prefix + "index"
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}

// Save stores the snapshot, records its key in the index set and points
// the source index at it.
func (b *RedisBackend) Save(ctx context.Context, s *Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := s.Marshal()
	if err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.key(s.Key), data, b.cfg.TTL)
	pipe.SAdd(ctx, b.indexKey(), s.Key)
	if s.Source != "" {
		pipe.Set(ctx, b.sourceKey(s.Source), s.Key, b.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeCache, "save snapshot to Redis").WithContext("key", s.Key)
	}
	return nil
}

// Load retrieves a snapshot. Expiry is enforced by Redis.
func (b *RedisBackend) Load(ctx context.Context, key string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "load snapshot from Redis").WithContext("key", key)
	}
	return Unmarshal(data)
}

// Latest returns the most recent snapshot saved for source.
func (b *RedisBackend) Latest(ctx context.Context, source string) (*Snapshot, error) {
	key, err := b.client.Get(ctx, b.sourceKey(source)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "find snapshot by source").WithContext("source", source)
	}
	return b.Load(ctx, key)
}

// Delete removes a snapshot and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.key(key))
	pipe.SRem(ctx, b.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeCache, "delete snapshot from Redis").WithContext("key", key)
	}
	return nil
}

// List returns the keys of live snapshots. Index entries whose data has
// expired are pruned.
func (b *RedisBackend) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "list snapshots in Redis")
	}

	var keys []string
	for _, id := range ids {
		n, err := b.client.Exists(ctx, b.key(id)).Result()
		if err != nil {
			return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "list snapshots in Redis")
		}
		if n == 0 {
			b.client.SRem(ctx, b.indexKey(), id)
			continue
		}
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
