package results

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a ResultStore backed by redis. Results are stored as JSON under
// keyPrefix + segmentation key.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, keyPrefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", addr)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// ReadResult implements ResultStore.
func (r *RedisStore) ReadResult(ctx context.Context, key string) (*ClientResult, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read result for %s", key)
	}

	var result ClientResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal result for %s", key)
	}
	return &result, nil
}

// WriteResult implements ResultStore.
func (r *RedisStore) WriteResult(ctx context.Context, key string, result ClientResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal result for %s", key)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to write result for %s", key)
	}
	return nil
}

// Close implements ResultStore.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
