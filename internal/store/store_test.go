package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
)

func newTestStore() (*Store, *clock.Mock) {
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := kv.NewMemory(clk)
	formResults := forms.NewStore(backend, zerolog.Nop())
	errors := errlog.NewStore(backend, clk)
	return New(backend, formResults, errors, clk, zerolog.Nop()), clk
}

func testConfig(secretName string) flow.BotConfig {
	return flow.BotConfig{TokenSecretName: secretName}
}

func strPtr(s string) *string { return &s }

func TestBotVersionJSON(t *testing.T) {
	data, err := json.Marshal(NumericVersion(3))
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))

	data, err = json.Marshal(StubVersion())
	require.NoError(t, err)
	assert.Equal(t, `"stub"`, string(data))

	var v BotVersion
	require.NoError(t, json.Unmarshal([]byte("7"), &v))
	assert.False(t, v.IsStub())
	assert.Equal(t, 7, v.Int())

	require.NoError(t, json.Unmarshal([]byte(`"stub"`), &v))
	assert.True(t, v.IsStub())

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &v))
}

func TestConfigVersioning(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	cfg, err := store.LoadBotConfig(ctx, "alice", "mybot", LatestVersion())
	require.NoError(t, err)
	assert.Nil(t, cfg, "unknown bot loads as nil without error")

	v, err := store.SaveBotConfig(ctx, "alice", "mybot", testConfig("token-1"), BotConfigVersionMetadata{Message: strPtr("init")})
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	v, err = store.SaveBotConfig(ctx, "alice", "mybot", testConfig("token-2"), BotConfigVersionMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	cfg, err = store.LoadBotConfig(ctx, "alice", "mybot", NumericVersion(0))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "token-1", cfg.TokenSecretName)

	cfg, err = store.LoadBotConfig(ctx, "alice", "mybot", LatestVersion())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "token-2", cfg.TokenSecretName)

	count, err := store.BotConfigVersionCount(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := store.IsBotExists(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := store.ListBotIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"mybot"}, ids)

	removed, err := store.RemoveBotConfig(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.True(t, removed)

	exists, err = store.IsBotExists(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStubVersionLoadsStrippedConfig(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	cfg := testConfig("token-1")
	cfg.UserFlowConfig = &flow.UserFlowConfig{
		Blocks: []flow.BlockConfig{
			{Content: &flow.ContentBlock{BlockID: "b1"}},
		},
	}
	_, err := store.SaveBotConfig(ctx, "alice", "mybot", cfg, BotConfigVersionMetadata{})
	require.NoError(t, err)

	stub, err := store.LoadBotConfig(ctx, "alice", "mybot", StubVersion())
	require.NoError(t, err)
	require.NotNil(t, stub)
	assert.Equal(t, "token-1", stub.TokenSecretName)
	require.NotNil(t, stub.UserFlowConfig)
	assert.Empty(t, stub.UserFlowConfig.Blocks, "stub strips the user flow")
}

func TestRunningVersionLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	running, err := store.IsBotRunning(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, store.SetBotRunningVersion(ctx, "alice", "mybot", NumericVersion(2)))
	require.NoError(t, store.SetBotRunningVersion(ctx, "alice", "other", StubVersion()))
	require.NoError(t, store.SetBotRunningVersion(ctx, "bob", "mybot", NumericVersion(0)))

	v, ok, err := store.GetBotRunningVersion(ctx, "alice", "mybot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v.Int())

	all, err := store.ListRunningBots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	wasRunning, err := store.SetBotNotRunning(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.True(t, wasRunning)

	wasRunning, err = store.SetBotNotRunning(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.False(t, wasRunning)
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	first, err := store.SaveEvent(ctx, "alice", "mybot", BotEvent{Event: BotStarted, Username: "alice"})
	require.NoError(t, err)
	assert.True(t, first)

	newVersion := 1
	first, err = store.SaveEvent(ctx, "alice", "mybot", BotEvent{Event: BotEdited, Username: "alice", NewVersion: &newVersion})
	require.NoError(t, err)
	assert.False(t, first)

	events, err := store.LastEvents(ctx, "alice", "mybot", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, BotStarted, events[0].Event)
	assert.Equal(t, BotEdited, events[1].Event)
	assert.NotZero(t, events[0].Timestamp, "timestamp is auto-filled")

	events, err = store.LastEvents(ctx, "alice", "mybot", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, BotEdited, events[0].Event)
}

func TestLoadBotInfo(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	info, err := store.LoadBotInfo(ctx, "alice", "mybot", false)
	require.NoError(t, err)
	assert.Nil(t, info, "unknown bot has no info")

	for i := 0; i < 3; i++ {
		_, err := store.SaveBotConfig(ctx, "alice", "mybot", testConfig("token"), BotConfigVersionMetadata{})
		require.NoError(t, err)
	}
	require.NoError(t, store.SetBotRunningVersion(ctx, "alice", "mybot", NumericVersion(1)))
	for i := 0; i < 7; i++ {
		_, err := store.SaveEvent(ctx, "alice", "mybot", BotEvent{Event: BotStopped, Username: "alice"})
		require.NoError(t, err)
	}
	require.NoError(t, store.Errors.SaveAlertChatID(ctx, "alice", "mybot", "-100"))

	info, err = store.LoadBotInfo(ctx, "alice", "mybot", false)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "mybot", info.BotID)
	assert.Equal(t, "mybot", info.DisplayName, "display name falls back to the bot id")
	require.NotNil(t, info.RunningVersion)
	assert.Equal(t, 1, *info.RunningVersion)
	require.NotNil(t, info.RunningVersionInfo)
	assert.Equal(t, 1, info.RunningVersionInfo.Version)
	require.Len(t, info.LastVersions, 2, "running version plus its ancestors")
	assert.Equal(t, 0, info.LastVersions[0].Version)
	assert.Equal(t, 1, info.LastVersions[1].Version)
	assert.Len(t, info.LastEvents, 1, "brief info carries a single event")
	require.NotNil(t, info.AlertChatID)
	assert.Equal(t, "-100", *info.AlertChatID)

	require.NoError(t, store.SaveBotDisplayName(ctx, "alice", "mybot", "My Bot"))
	info, err = store.LoadBotInfo(ctx, "alice", "mybot", true)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "My Bot", info.DisplayName)
	assert.Len(t, info.LastEvents, 5, "detailed info carries more events")
	assert.Empty(t, info.FormsWithResponses)
	assert.Empty(t, info.LastErrors)
}

func TestLoadBotInfoVersionWindow(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	for i := 0; i < 6; i++ {
		_, err := store.SaveBotConfig(ctx, "alice", "mybot", testConfig("token"), BotConfigVersionMetadata{})
		require.NoError(t, err)
	}

	// stopped bots anchor the window at the latest version
	info, err := store.LoadBotInfo(ctx, "alice", "mybot", false)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Len(t, info.LastVersions, 4)
	assert.Equal(t, 2, info.LastVersions[0].Version)
	assert.Equal(t, 5, info.LastVersions[3].Version)

	// running bots anchor it at the running version
	require.NoError(t, store.SetBotRunningVersion(ctx, "alice", "mybot", NumericVersion(2)))
	info, err = store.LoadBotInfo(ctx, "alice", "mybot", false)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Len(t, info.LastVersions, 3)
	assert.Equal(t, 0, info.LastVersions[0].Version)
	assert.Equal(t, 2, info.LastVersions[2].Version)
}

func TestLoadBotInfoStubRunningVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, err := store.SaveBotConfig(ctx, "alice", "mybot", testConfig("token"), BotConfigVersionMetadata{})
	require.NoError(t, err)
	require.NoError(t, store.SetBotRunningVersion(ctx, "alice", "mybot", StubVersion()))

	info, err := store.LoadBotInfo(ctx, "alice", "mybot", false)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Nil(t, info.RunningVersion, "a stub run is not a numeric running version")
}

func TestCompositeKeyParse(t *testing.T) {
	owner, bot, err := ParseCompositeKey(CompositeKey("alice", "mybot"))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, "mybot", bot)

	_, _, err = ParseCompositeKey("justone")
	assert.Error(t, err)

	_, _, err = ParseCompositeKey("a/b/c")
	assert.Error(t, err)
}
