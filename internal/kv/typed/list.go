package typed

import (
	"context"
	"encoding/json"
)

// List is an append-only ordered list of T per key.
type List[T any] struct {
	opts Options
}

func NewList[T any](opts Options) *List[T] {
	return &List[T]{opts: opts}
}

// Push appends an item and returns the new list length.
func (s *List[T]) Push(ctx context.Context, key string, item T) (int64, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return 0, err
	}
	n, err := s.opts.Backend.ListPush(ctx, s.opts.fullKey(key), data)
	if err != nil {
		return 0, err
	}
	if s.opts.TTL > 0 {
		if _, err := s.opts.Backend.Touch(ctx, s.opts.fullKey(key), s.opts.TTL); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Slice returns items in the inclusive index window [start, end]; negative
// indices count from the end of the list.
func (s *List[T]) Slice(ctx context.Context, key string, start, end int64) ([]T, error) {
	raw, err := s.opts.Backend.ListRange(ctx, s.opts.fullKey(key), start, end)
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

// Tail returns the last n items in list order.
func (s *List[T]) Tail(ctx context.Context, key string, n int64) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.Slice(ctx, key, -n, -1)
}

func (s *List[T]) Length(ctx context.Context, key string) (int64, error) {
	return s.opts.Backend.ListLen(ctx, s.opts.fullKey(key))
}

// ListKeys enumerates all keys with at least one item.
func (s *List[T]) ListKeys(ctx context.Context) ([]string, error) {
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

// FindKeys enumerates keys matching the given sub-prefix.
func (s *List[T]) FindKeys(ctx context.Context, keyPrefix string) ([]string, error) {
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

// PageFromEnd returns a window of the list counted back from its end:
// offset 0 selects the last count items, offset N the count items before
// the N-th from the end. Items are returned in list (chronological) order.
func (s *List[T]) PageFromEnd(ctx context.Context, key string, offset, count int) ([]T, error) {
	start, end := PageToRange(offset, count)
	if end < start {
		return nil, nil
	}
	return s.Slice(ctx, key, int64(-1-end), int64(-1-start))
}

// PageToRange converts offset/count paging parameters to inclusive
// distances from the end of a list: offset 0 with count 3 covers the last
// three items ([0, 2]). A zero count yields an inverted (empty) window.
func PageToRange(offset, count int) (start, end int) {
	return offset, offset + count - 1
}
