package typed

import (
	"context"
	"encoding/json"
)

// Dict is a hash of subkey -> T per key.
type Dict[T any] struct {
	opts Options
}

func NewDict[T any](opts Options) *Dict[T] {
	return &Dict[T]{opts: opts}
}

func (s *Dict[T]) SetSubkey(ctx context.Context, key, subkey string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.opts.Backend.HashSet(ctx, s.opts.fullKey(key), subkey, data); err != nil {
		return err
	}
	if s.opts.TTL > 0 {
		if _, err := s.opts.Backend.Touch(ctx, s.opts.fullKey(key), s.opts.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Dict[T]) SetSubkeys(ctx context.Context, key string, values map[string]T) error {
	for subkey, value := range values {
		if err := s.SetSubkey(ctx, key, subkey, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Dict[T]) GetSubkey(ctx context.Context, key, subkey string) (T, bool, error) {
	var value T
	data, ok, err := s.opts.Backend.HashGet(ctx, s.opts.fullKey(key), subkey)
	if err != nil || !ok {
		return value, false, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}

func (s *Dict[T]) RemoveSubkey(ctx context.Context, key, subkey string) (bool, error) {
	return s.opts.Backend.HashDelete(ctx, s.opts.fullKey(key), subkey)
}

func (s *Dict[T]) ListSubkeys(ctx context.Context, key string) ([]string, error) {
	return s.opts.Backend.HashKeys(ctx, s.opts.fullKey(key))
}

// Load returns the full subkey -> value mapping for a key.
func (s *Dict[T]) Load(ctx context.Context, key string) (map[string]T, error) {
	raw, err := s.opts.Backend.HashGetAll(ctx, s.opts.fullKey(key))
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for subkey, data := range raw {
		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, err
		}
		out[subkey] = value
	}
	return out, nil
}

// ListKeys enumerates all top-level keys in the store.
func (s *Dict[T]) ListKeys(ctx context.Context) ([]string, error) {
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
