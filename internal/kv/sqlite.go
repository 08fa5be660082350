package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/botforge/botforge/internal/clock"
)

// kvRecord is the single-table representation of one logical key. The
// payload is a JSON snapshot of the entry (kind, contents, expiry), so the
// schema never changes when new store types appear.
type kvRecord struct {
	Key     string `gorm:"primaryKey;column:key;size:768"`
	Payload []byte `gorm:"column:payload"`
}

func (kvRecord) TableName() string { return "kv_entries" }

type persistedEntry struct {
	Kind      int               `json:"kind"`
	Value     []byte            `json:"value,omitempty"`
	List      [][]byte          `json:"list,omitempty"`
	Hash      map[string][]byte `json:"hash,omitempty"`
	Set       map[string][]byte `json:"set,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

// SQLite is a durable Store for deployments without Redis: an in-memory
// emulation written through to a single-file sqlite database on every
// mutation and reloaded on startup.
type SQLite struct {
	*Memory
	db *gorm.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating when necessary) the database at path and loads
// all live entries into memory.
func NewSQLite(path string, c clock.Clock) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	s := &SQLite{Memory: NewMemory(c), db: db}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) loadAll() error {
	var records []kvRecord
	if err := s.db.Find(&records).Error; err != nil {
		return fmt.Errorf("failed to load kv entries: %w", err)
	}
	now := s.Memory.clock.Now()
	for _, rec := range records {
		var p persistedEntry
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("corrupt kv entry %q: %w", rec.Key, err)
		}
		e := &memoryEntry{
			kind:      entryKind(p.Kind),
			value:     p.Value,
			list:      p.List,
			hash:      p.Hash,
			set:       p.Set,
			expiresAt: p.ExpiresAt,
		}
		if e.expired(now) {
			s.db.Delete(&kvRecord{}, "key = ?", rec.Key)
			continue
		}
		s.Memory.entries[rec.Key] = e
	}
	return nil
}

// persist writes the current in-memory state of key back to sqlite,
// deleting the row when the key no longer exists.
func (s *SQLite) persist(key string) error {
	s.Memory.mu.Lock()
	e, ok := s.Memory.entries[key]
	var payload []byte
	if ok {
		var err error
		payload, err = json.Marshal(persistedEntry{
			Kind:      int(e.kind),
			Value:     e.value,
			List:      e.list,
			Hash:      e.hash,
			Set:       e.set,
			ExpiresAt: e.expiresAt,
		})
		if err != nil {
			s.Memory.mu.Unlock()
			return err
		}
	}
	s.Memory.mu.Unlock()

	if !ok {
		return s.db.Delete(&kvRecord{}, "key = ?", key).Error
	}
	return s.db.Save(&kvRecord{Key: key, Payload: payload}).Error
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Memory.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return s.persist(key)
}

func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := s.Memory.Delete(ctx, key)
	if err != nil {
		return deleted, err
	}
	return deleted, s.persist(key)
}

func (s *SQLite) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	touched, err := s.Memory.Touch(ctx, key, ttl)
	if err != nil || !touched {
		return touched, err
	}
	return touched, s.persist(key)
}

func (s *SQLite) ListPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	n, err := s.Memory.ListPush(ctx, key, values...)
	if err != nil {
		return n, err
	}
	return n, s.persist(key)
}

func (s *SQLite) HashSet(ctx context.Context, key, field string, value []byte) error {
	if err := s.Memory.HashSet(ctx, key, field, value); err != nil {
		return err
	}
	return s.persist(key)
}

func (s *SQLite) HashDelete(ctx context.Context, key, field string) (bool, error) {
	deleted, err := s.Memory.HashDelete(ctx, key, field)
	if err != nil {
		return deleted, err
	}
	return deleted, s.persist(key)
}

func (s *SQLite) SetAdd(ctx context.Context, key string, members ...[]byte) error {
	if err := s.Memory.SetAdd(ctx, key, members...); err != nil {
		return err
	}
	return s.persist(key)
}

func (s *SQLite) SetRemove(ctx context.Context, key string, members ...[]byte) error {
	if err := s.Memory.SetRemove(ctx, key, members...); err != nil {
		return err
	}
	return s.persist(key)
}

func (s *SQLite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
