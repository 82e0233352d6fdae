package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis server. The client keeps its own
// connection pool, so a single RedisStore is shared by all callers.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the server at url (redis://host:port/db) and
// verifies it answers PING.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, backendErr("PING", url, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, backendErr("GET", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return backendErr("SET", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return backendErr("DEL", keys[0], err)
	}
	return nil
}

func (r *RedisStore) AddToSet(ctx context.Context, set, member string) error {
	if err := r.rdb.SAdd(ctx, set, member).Err(); err != nil {
		return backendErr("SADD", set, err)
	}
	return nil
}

func (r *RedisStore) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := r.rdb.SRem(ctx, set, member).Err(); err != nil {
		return backendErr("SREM", set, err)
	}
	return nil
}

func (r *RedisStore) Members(ctx context.Context, set string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, backendErr("SMEMBERS", set, err)
	}
	return members, nil
}

func (r *RedisStore) Append(ctx context.Context, list, value string) error {
	if err := r.rdb.RPush(ctx, list, value).Err(); err != nil {
		return backendErr("RPUSH", list, err)
	}
	return nil
}

func (r *RedisStore) Range(ctx context.Context, list string, start, stop int64) ([]string, error) {
	items, err := r.rdb.LRange(ctx, list, start, stop).Result()
	if err != nil {
		return nil, backendErr("LRANGE", list, err)
	}
	return items, nil
}

// Atomic runs the ops inside MULTI/EXEC.
func (r *RedisStore) Atomic(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case OpSet:
				pipe.Set(ctx, op.Key, op.Value, 0)
			case OpDelete:
				pipe.Del(ctx, op.Key)
			case OpSetAdd:
				pipe.SAdd(ctx, op.Key, op.Value)
			case OpSetRemove:
				pipe.SRem(ctx, op.Key, op.Value)
			case OpListPushHead:
				pipe.LPush(ctx, op.Key, op.Value)
			case OpListPushTail:
				pipe.RPush(ctx, op.Key, op.Value)
			case OpListRemove:
				pipe.LRem(ctx, op.Key, op.Count, op.Value)
			default:
				return fmt.Errorf("unsupported op %v", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return backendErr("MULTI", ops[0].Key, err)
	}
	return nil
}
