// Package storage holds the persisted client state as opaque blobs under a
// string key. FileStore writes one file per key; RedisStore keeps the blobs
// in Redis for clients that share a host.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

// KV is a blob store keyed by name.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Open returns a RedisStore when redisURL is set and a FileStore under dir
// otherwise.
func Open(ctx context.Context, dir, redisURL string) (KV, error) {
	if redisURL != "" {
		return NewRedisStore(ctx, redisURL)
	}
	return NewFileStore(dir), nil
}
