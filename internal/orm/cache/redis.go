package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conduit-lang/strata/internal/orm/record"
)

// RedisCache implements a Redis-backed record cache. Records are stored as
// foreign-mode documents without expiry.
type RedisCache struct {
	client  *redis.Client
	schemas record.SchemaResolver
	config  Config
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Config holds common cache configuration
	Config Config
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Config: DefaultConfig(),
	}
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(config RedisConfig, schemas record.SchemaResolver) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisCacheWithClient(client, schemas, config.Config), nil
}

// NewRedisCacheWithClient creates a Redis cache with an existing client
func NewRedisCacheWithClient(client *redis.Client, schemas record.SchemaResolver, config Config) *RedisCache {
	return &RedisCache{
		client:  client,
		schemas: schemas,
		config:  config,
	}
}

// Get decodes the cached record
func (r *RedisCache) Get(ctx context.Context, model string, id int64) (*record.Record, error) {
	key := Key(model, id)

	data, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss{Key: key}
		}
		return nil, err
	}

	rec, err := record.Import(r.schemas, data, record.ModeForeign)
	if err != nil {
		// an entry written under an older schema is dropped
		r.client.Del(ctx, r.config.Prefix+key)
		return nil, ErrCacheMiss{Key: key}
	}
	return rec, nil
}

// Put stores rec without expiry
func (r *RedisCache) Put(ctx context.Context, rec *record.Record) error {
	if !rec.HasID() {
		return fmt.Errorf("cannot cache %s without an id", rec.Model())
	}
	data, err := record.Export(rec, record.ModeForeign)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.config.Prefix+Key(rec.Model(), rec.ID()), data, 0).Err()
}

// Invalidate removes one record
func (r *RedisCache) Invalidate(ctx context.Context, model string, id int64) error {
	return r.client.Del(ctx, r.config.Prefix+Key(model, id)).Err()
}

// Clear removes every record under the prefix, unlinking keys in batches
// as SCAN yields them
func (r *RedisCache) Clear(ctx context.Context) error {
	const batch = 500
	keys := make([]string, 0, batch)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		err := r.client.Unlink(ctx, keys...).Err()
		keys = keys[:0]
		return err
	}
	iter := r.client.Scan(ctx, 0, r.config.Prefix+"*", batch).Iterator()
	for iter.Next(ctx) {
		if keys = append(keys, iter.Val()); len(keys) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
