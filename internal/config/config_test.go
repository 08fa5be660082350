package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsAutoBackend(t *testing.T) {
	cases := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{name: "redis url wins", cfg: Config{Auth: "no_auth", KVBackend: BackendAuto, RedisURL: "redis://localhost:6379"}, expected: BackendRedis},
		{name: "sqlite path", cfg: Config{Auth: "no_auth", KVBackend: BackendAuto, SQLitePath: "/tmp/botforge.db"}, expected: BackendSQLite},
		{name: "nothing configured falls back to memory", cfg: Config{Auth: "no_auth", KVBackend: BackendAuto}, expected: BackendMemory},
		{name: "empty treated as auto", cfg: Config{Auth: "no_auth", KVBackend: "", SQLitePath: "/tmp/botforge.db"}, expected: BackendSQLite},
		{name: "redis preferred over sqlite", cfg: Config{Auth: "no_auth", KVBackend: BackendAuto, RedisURL: "redis://localhost:6379", SQLitePath: "/tmp/botforge.db"}, expected: BackendRedis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.cfg.ResolveDefaults())
			assert.Equal(t, tc.expected, tc.cfg.KVBackend)
		})
	}
}

func TestResolveDefaultsValidation(t *testing.T) {
	cfg := Config{Auth: "no_auth", KVBackend: BackendRedis}
	err := cfg.ResolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	cfg = Config{Auth: "no_auth", KVBackend: BackendSQLite}
	err = cfg.ResolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQLITE_PATH")

	cfg = Config{Auth: "no_auth", KVBackend: "cassandra"}
	err = cfg.ResolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported KV_BACKEND")

	cfg = Config{KVBackend: BackendMemory, Auth: "oauth"}
	err = cfg.ResolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported AUTH")

	cfg = Config{KVBackend: BackendMemory, Auth: "no_auth"}
	assert.NoError(t, cfg.ResolveDefaults())
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	assert.Equal(t, BackendMemory, cfg.KVBackend)
	assert.NoError(t, cfg.ResolveDefaults())
}
