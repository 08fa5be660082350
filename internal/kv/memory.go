package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/botforge/botforge/internal/clock"
)

type entryKind int

const (
	kindValue entryKind = iota
	kindList
	kindHash
	kindSet
)

type memoryEntry struct {
	kind      entryKind
	value     []byte
	list      [][]byte
	hash      map[string][]byte
	set       map[string][]byte
	expiresAt time.Time // zero = no expiration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a map-based Store emulation used when no Redis is configured
// and in tests. TTLs are driven by an injected Clock so expiration can be
// tested deterministically.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clock.Clock
}

var _ Store = (*Memory)(nil)

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real{}
	}
	return &Memory{entries: make(map[string]*memoryEntry), clock: c}
}

// live returns the entry for key, dropping it first if it has expired.
func (m *Memory) live(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindValue {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memoryEntry{
		kind:      kindValue,
		value:     append([]byte(nil), value...),
		expiresAt: m.expiry(ttl),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return false, nil
	}
	e.expiresAt = m.expiry(ttl)
	return true, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var keys []string
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) ListPush(_ context.Context, key string, values ...[]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memoryEntry{kind: kindList}
		m.entries[key] = e
	}
	for _, v := range values {
		e.list = append(e.list, append([]byte(nil), v...))
	}
	return int64(len(e.list)), nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, end int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindList {
		return nil, nil
	}
	lo, hi, ok := RangeIndices(int64(len(e.list)), start, end)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for _, v := range e.list[lo : hi+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (m *Memory) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindList {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

func (m *Memory) HashSet(_ context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memoryEntry{kind: kindHash, hash: make(map[string][]byte)}
		m.entries[key] = e
	}
	e.hash[field] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) HashGet(_ context.Context, key, field string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindHash {
		return nil, false, nil
	}
	v, ok := e.hash[field]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) HashDelete(_ context.Context, key, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindHash {
		return false, nil
	}
	if _, ok := e.hash[field]; !ok {
		return false, nil
	}
	delete(e.hash, field)
	if len(e.hash) == 0 {
		delete(m.entries, key)
	}
	return true, nil
}

func (m *Memory) HashKeys(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindHash {
		return nil, nil
	}
	fields := make([]string, 0, len(e.hash))
	for f := range e.hash {
		fields = append(fields, f)
	}
	return fields, nil
}

func (m *Memory) HashGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindHash {
		return map[string][]byte{}, nil
	}
	out := make(map[string][]byte, len(e.hash))
	for f, v := range e.hash {
		out[f] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *Memory) SetAdd(_ context.Context, key string, members ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memoryEntry{kind: kindSet, set: make(map[string][]byte)}
		m.entries[key] = e
	}
	for _, v := range members {
		e.set[string(v)] = append([]byte(nil), v...)
	}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key string, members ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindSet {
		return nil
	}
	for _, v := range members {
		delete(e.set, string(v))
	}
	if len(e.set) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindSet {
		return nil, nil
	}
	out := make([][]byte, 0, len(e.set))
	for _, v := range e.set {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
