// Package kv defines the key-value substrate every store in the application
// is built on. The interface mirrors the small slice of Redis the stores
// need: plain values with TTL, key enumeration by prefix, ordered lists,
// hashes and sets. Implementations: in-memory emulation (Memory), Redis
// (Redis) and a gorm/sqlite-backed durable emulation (SQLite).
package kv

import (
	"context"
	"time"
)

// Store is the key-value substrate interface.
//
// List ranges follow Redis conventions: start and end are inclusive and may
// be negative to count from the end of the list; an empty slice is returned
// for out-of-range or inverted windows.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	// Touch refreshes the TTL of an existing key of any kind.
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Keys enumerates live keys starting with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	ListPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	ListRange(ctx context.Context, key string, start, end int64) ([][]byte, error)
	ListLen(ctx context.Context, key string) (int64, error)

	HashSet(ctx context.Context, key, field string, value []byte) error
	HashGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HashDelete(ctx context.Context, key, field string) (bool, error)
	HashKeys(ctx context.Context, key string) ([]string, error)
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)

	SetAdd(ctx context.Context, key string, members ...[]byte) error
	SetRemove(ctx context.Context, key string, members ...[]byte) error
	SetMembers(ctx context.Context, key string) ([][]byte, error)

	Close() error
}

// RangeIndices converts possibly-negative inclusive Redis-style range
// indices to absolute ones for a list of the given length. The second
// return value is false when the window is empty.
func RangeIndices(length, start, end int64) (int64, int64, bool) {
	if start < 0 {
		start = length + start
	}
	if end < 0 {
		end = length + end
	}
	if start < 0 {
		start = 0
	}
	if end > length-1 {
		end = length - 1
	}
	if length == 0 || start > end || start > length-1 || end < 0 {
		return 0, 0, false
	}
	return start, end, true
}
