package errlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
)

func newTestStore() (*Store, *clock.Mock) {
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(kv.NewMemory(clk), clk), clk
}

func strPtr(s string) *string { return &s }

func TestProcessAndLoadErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, store.ProcessError(ctx, "alice", "mybot", BotError{
			Timestamp: 100,
			Message:   msg,
			ExcType:   strPtr("RuntimeError"),
		}))
	}

	errs, err := store.LoadErrors(ctx, "alice", "mybot", 0, 2)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "third", errs[0].Message, "newest error comes first")
	assert.Equal(t, "second", errs[1].Message)

	errs, err = store.LoadErrors(ctx, "alice", "mybot", 2, 2)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "first", errs[0].Message)

	errs, err = store.LoadErrors(ctx, "alice", "otherbot", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestAlertChatID(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, ok, err := store.LoadAlertChatID(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveAlertChatID(ctx, "alice", "mybot", "-100123"))
	chatID, ok, err := store.LoadAlertChatID(ctx, "alice", "mybot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "-100123", chatID)

	removed, err := store.RemoveAlertChatID(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestErrorCallbackFiresWithAlertChat(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	var delivered []ErrorContext
	store.SetErrorCallback(func(_ context.Context, errCtx ErrorContext) {
		delivered = append(delivered, errCtx)
	})

	// no alert chat configured yet: callback stays silent
	require.NoError(t, store.ProcessError(ctx, "alice", "mybot", BotError{Message: "quiet"}))
	assert.Empty(t, delivered)

	require.NoError(t, store.SaveAlertChatID(ctx, "alice", "mybot", "42"))
	require.NoError(t, store.ProcessError(ctx, "alice", "mybot", BotError{Message: "loud"}))
	require.Len(t, delivered, 1)
	assert.Equal(t, "42", delivered[0].AlertChatID)
	assert.Equal(t, "loud", delivered[0].Error.Message)
}

func TestAdapterHookRecordsErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	adapter := store.AdapterFor("alice", "mybot")

	adapter.Record(ctx, BotError{Message: "boom"})
	store.Wait()

	errs, err := store.LoadErrors(ctx, "alice", "mybot", 0, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Message)
}
