package typed

import (
	"context"
	"encoding/json"
	"fmt"
)

// versionRecord is one stored version: metadata plus a full snapshot of the
// value. Versions are append-only, so version numbers are list indices and
// form a contiguous sequence starting at zero.
type versionRecord[M any] struct {
	Meta     M               `json:"meta"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Versioned stores a full history of values of type T per key, each
// annotated with metadata of type M.
type Versioned[T any, M any] struct {
	records *List[versionRecord[M]]
}

func NewVersioned[T any, M any](opts Options) *Versioned[T, M] {
	return &Versioned[T, M]{records: NewList[versionRecord[M]](opts)}
}

// Save appends a new version and returns its version number.
func (s *Versioned[T, M]) Save(ctx context.Context, key string, value T, meta M) (int, error) {
	snapshot, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}
	n, err := s.records.Push(ctx, key, versionRecord[M]{Meta: meta, Snapshot: snapshot})
	if err != nil {
		return 0, err
	}
	return int(n) - 1, nil
}

// LoadVersion loads the requested version; -1 means the latest one. The
// boolean result is false when the key has no such version.
func (s *Versioned[T, M]) LoadVersion(ctx context.Context, key string, version int) (T, M, bool, error) {
	var (
		value T
		meta  M
	)
	idx := int64(version)
	records, err := s.records.Slice(ctx, key, idx, idx)
	if err != nil || len(records) == 0 {
		return value, meta, false, err
	}
	if err := json.Unmarshal(records[0].Snapshot, &value); err != nil {
		return value, meta, false, fmt.Errorf("corrupt version snapshot for %q: %w", key, err)
	}
	return value, records[0].Meta, true, nil
}

// CountVersions returns the number of stored versions for a key.
func (s *Versioned[T, M]) CountVersions(ctx context.Context, key string) (int, error) {
	n, err := s.records.Length(ctx, key)
	return int(n), err
}

// Drop removes all versions of a key.
func (s *Versioned[T, M]) Drop(ctx context.Context, key string) (bool, error) {
	return s.records.opts.Backend.Delete(ctx, s.records.opts.fullKey(key))
}

// VersionInfo is metadata of one stored version.
type VersionInfo[M any] struct {
	Version int
	Meta    M
}

// LoadVersionInfos returns version metadata for the inclusive window
// [startVersion, endVersion]; endVersion -1 means "up to the latest".
func (s *Versioned[T, M]) LoadVersionInfos(ctx context.Context, key string, startVersion, endVersion int) ([]VersionInfo[M], error) {
	records, err := s.records.Slice(ctx, key, int64(startVersion), int64(endVersion))
	if err != nil {
		return nil, err
	}
	infos := make([]VersionInfo[M], len(records))
	for i, rec := range records {
		infos[i] = VersionInfo[M]{Version: startVersion + i, Meta: rec.Meta}
	}
	return infos, nil
}

// FindKeys enumerates keys matching the given sub-prefix.
func (s *Versioned[T, M]) FindKeys(ctx context.Context, keyPrefix string) ([]string, error) {
	return s.records.FindKeys(ctx, keyPrefix)
}
