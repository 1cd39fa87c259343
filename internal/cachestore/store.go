// Package cachestore provides the durable key-value stores behind the edge cache gateway.
//
// Stores are atomic per key only. A physical TTL of zero means the entry never expires.
package cachestore

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the stored bytes and whether the key was present and not physically expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Backend names accepted by CACHE_STORE.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)
