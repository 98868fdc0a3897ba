package store

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store backed by a single Redis instance. The version lives
// alongside the value under <key>:ver and both are updated inside a
// WATCH/MULTI transaction, so concurrent writers against the same key
// surface as ErrVersionConflict instead of lost updates.
type Redis struct {
	Client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func versionKey(key string) string {
	return key + ":ver"
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, int64, error) {
	// One MGET so the value and its version come from the same instant.
	// Put writes both keys inside one MULTI; reading them with separate
	// GETs would let a concurrent Put pair a stale value with the new
	// version and slip past the CAS check.
	results, err := r.Client.MGet(ctx, key, versionKey(key)).Result()
	if err != nil {
		return nil, 0, err
	}

	raw, ok := results[0].(string)
	if !ok {
		return nil, 0, ErrNotFound
	}

	var version int64
	if rawVer, ok := results[1].(string); ok {
		version, err = strconv.ParseInt(rawVer, 10, 64)
		if err != nil {
			return nil, 0, err
		}
	}
	return []byte(raw), version, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(key)).Int64()
		if err == redis.Nil {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			pipe.Set(ctx, versionKey(key), strconv.FormatInt(expectedVersion+1, 10), 0)
			return nil
		})
		return err
	}

	err := r.Client.Watch(ctx, txn, versionKey(key))
	if err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	return err
}
