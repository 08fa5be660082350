package secrets

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
)

func newTestStore(t *testing.T) *KVSecretStore {
	t.Helper()
	backend := kv.NewMemory(clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	store, err := NewKVSecretStore(backend, "test-encryption-key", 3)
	require.NoError(t, err)
	return store
}

func TestSecretRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSecret(ctx, "alice", "token", []byte("123:ABC")))

	value, ok, err := store.GetSecret(ctx, "alice", "token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "123:ABC", value)

	// secrets are scoped per owner
	_, ok, err = store.GetSecret(ctx, "bob", "token")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.RemoveSecret(ctx, "alice", "token")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err = store.GetSecret(ctx, "alice", "token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecretIsEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	store, err := NewKVSecretStore(backend, "test-encryption-key", 3)
	require.NoError(t, err)

	plaintext := []byte("super-secret-token")
	require.NoError(t, store.SaveSecret(ctx, "alice", "token", plaintext))

	keys, err := backend.Keys(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	raw, ok, err := backend.Get(ctx, keys[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, bytes.Contains(raw, plaintext), "plaintext must not reach the backend")
}

func TestSecretValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.ErrorIs(t, store.SaveSecret(ctx, "alice", "empty", nil), ErrEmptySecret)

	tooLong := make([]byte, MaxSecretLen+1)
	assert.ErrorIs(t, store.SaveSecret(ctx, "alice", "big", tooLong), ErrSecretTooLong)
}

func TestSecretQuota(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveSecret(ctx, "alice", fmt.Sprintf("secret-%d", i), []byte("v")))
	}
	assert.ErrorIs(t, store.SaveSecret(ctx, "alice", "one-too-many", []byte("v")), ErrQuotaExceeded)

	// overwriting an existing secret does not count against the quota
	require.NoError(t, store.SaveSecret(ctx, "alice", "secret-0", []byte("updated")))

	// other owners have their own quota
	require.NoError(t, store.SaveSecret(ctx, "bob", "token", []byte("v")))

	names, err := store.ListSecrets(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"secret-0", "secret-1", "secret-2"}, names)
}

func TestEmptyEncryptionKeyRejected(t *testing.T) {
	backend := kv.NewMemory(clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	_, err := NewKVSecretStore(backend, "", 3)
	assert.ErrorIs(t, err, ErrEmptyKey)
}
