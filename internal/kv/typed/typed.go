// Package typed builds the storage primitives the application uses on top
// of the kv substrate: typed single values, lists, dicts (hashes), sets,
// flags and versioned values. Values are serialized as JSON.
//
// Every store scopes its keys under "{prefix}/{name}/", so unrelated stores
// can share one substrate without collisions.
package typed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/botforge/botforge/internal/kv"
)

// Options configure all store types in this package.
type Options struct {
	// Name distinguishes stores under a common prefix, e.g. "config".
	Name string
	// Prefix scopes the store when embedded in a larger app.
	Prefix string
	// TTL applies to each key on write; zero means no expiration.
	TTL time.Duration

	Backend kv.Store
}

func (o Options) fullKey(key string) string {
	return o.Prefix + "/" + o.Name + "/" + key
}

func (o Options) stripKey(fullKey string) string {
	return strings.TrimPrefix(fullKey, o.Prefix+"/"+o.Name+"/")
}

// KeyValue stores one JSON-serialized value of type T per key.
type KeyValue[T any] struct {
	opts Options
}

func NewKeyValue[T any](opts Options) *KeyValue[T] {
	return &KeyValue[T]{opts: opts}
}

func (s *KeyValue[T]) Save(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.opts.Backend.Set(ctx, s.opts.fullKey(key), data, s.opts.TTL)
}

// Load returns the stored value and whether the key exists.
func (s *KeyValue[T]) Load(ctx context.Context, key string) (T, bool, error) {
	var value T
	data, ok, err := s.opts.Backend.Get(ctx, s.opts.fullKey(key))
	if err != nil || !ok {
		return value, false, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}

func (s *KeyValue[T]) Drop(ctx context.Context, key string) (bool, error) {
	return s.opts.Backend.Delete(ctx, s.opts.fullKey(key))
}

// Touch refreshes the key's TTL without rewriting the value.
func (s *KeyValue[T]) Touch(ctx context.Context, key string) (bool, error) {
	return s.opts.Backend.Touch(ctx, s.opts.fullKey(key), s.opts.TTL)
}

// ListKeys enumerates all keys in the store, with the store prefix removed.
func (s *KeyValue[T]) ListKeys(ctx context.Context) ([]string, error) {
	fullKeys, err := s.opts.Backend.Keys(ctx, s.opts.fullKey(""))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(fullKeys))
	for i, k := range fullKeys {
		keys[i] = s.opts.stripKey(k)
	}
	return keys, nil
}

// FindKeys enumerates keys matching the given sub-prefix, e.g. "owner/".
func (s *KeyValue[T]) FindKeys(ctx context.Context, keyPrefix string) ([]string, error) {
	fullKeys, err := s.opts.Backend.Keys(ctx, s.opts.fullKey(keyPrefix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(fullKeys))
	for i, k := range fullKeys {
		keys[i] = s.opts.stripKey(k)
	}
	return keys, nil
}
