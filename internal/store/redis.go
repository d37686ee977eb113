package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores sets and lists in Redis.
type RedisBackend struct {
	client *redis.Client
}

// RedisOptions selects the Redis instance.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend connects lazily to the Redis instance described by opts.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return unavailable("ping", "", r.client.Ping(ctx).Err())
}

// Close releases the client connections.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) OverwriteSet(ctx context.Context, key string, members []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			args := make([]interface{}, len(members))
			for i, m := range members {
				args[i] = m
			}
			pipe.SAdd(ctx, key, args...)
		}
		return nil
	})
	return unavailable("overwrite_set", key, err)
}

func (r *RedisBackend) AddToSet(ctx context.Context, key, member string) error {
	return unavailable("add_to_set", key, r.client.SAdd(ctx, key, member).Err())
}

func (r *RedisBackend) AppendBounded(ctx context.Context, key, value string, limit int) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		pipe.LTrim(ctx, key, -int64(limit), -1)
		return nil
	})
	return unavailable("append_bounded", key, err)
}

func (r *RedisBackend) ReadSet(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("read_set", key, err)
	}
	return members, nil
}

func (r *RedisBackend) ReadBoundedList(ctx context.Context, key string, limit int) ([]string, error) {
	values, err := r.client.LRange(ctx, key, -int64(limit), -1).Result()
	if err != nil {
		return nil, unavailable("read_bounded_list", key, err)
	}
	return values, nil
}

func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: redis %s %q: %w", ErrUnavailable, op, key, err)
}
