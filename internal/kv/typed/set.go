package typed

import (
	"context"
	"encoding/json"
)

// Set is an unordered set of T per key.
type Set[T comparable] struct {
	opts Options
}

func NewSet[T comparable](opts Options) *Set[T] {
	return &Set[T]{opts: opts}
}

func (s *Set[T]) Add(ctx context.Context, key string, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := s.opts.Backend.SetAdd(ctx, s.opts.fullKey(key), data); err != nil {
		return err
	}
	if s.opts.TTL > 0 {
		if _, err := s.opts.Backend.Touch(ctx, s.opts.fullKey(key), s.opts.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set[T]) Remove(ctx context.Context, key string, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.opts.Backend.SetRemove(ctx, s.opts.fullKey(key), data)
}

func (s *Set[T]) All(ctx context.Context, key string) ([]T, error) {
	raw, err := s.opts.Backend.SetMembers(ctx, s.opts.fullKey(key))
	if err != nil {
		return nil, err
	}
	items := make([]T, len(raw))
	for i, data := range raw {
		if err := json.Unmarshal(data, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Set[T]) Contains(ctx context.Context, key string, item T) (bool, error) {
	items, err := s.All(ctx, key)
	if err != nil {
		return false, err
	}
	for _, existing := range items {
		if existing == item {
			return true, nil
		}
	}
	return false, nil
}

// Flag is a per-key boolean marker.
type Flag struct {
	store *KeyValue[bool]
}

func NewFlag(opts Options) *Flag {
	return &Flag{store: NewKeyValue[bool](opts)}
}

func (f *Flag) SetFlag(ctx context.Context, key string) error {
	return f.store.Save(ctx, key, true)
}

func (f *Flag) UnsetFlag(ctx context.Context, key string) error {
	_, err := f.store.Drop(ctx, key)
	return err
}

func (f *Flag) IsSet(ctx context.Context, key string) (bool, error) {
	set, ok, err := f.store.Load(ctx, key)
	return ok && set, err
}
