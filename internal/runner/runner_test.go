package runner

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/construct"
	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/secrets"
	"github.com/botforge/botforge/internal/store"
	"github.com/botforge/botforge/internal/telegram"
)

// pollingClient blocks in Start until its context is cancelled, like the
// real long-poll loop.
func pollingClient() *telegram.MockClient {
	return &telegram.MockClient{
		GetMeFunc: func(context.Context) (*models.User, error) {
			return &models.User{ID: 42, Username: "test_bot", IsBot: true}, nil
		},
		StartFunc: func(ctx context.Context) { <-ctx.Done() },
	}
}

func botRunner(ownerID, botID string) *construct.BotRunner {
	return &construct.BotRunner{OwnerID: ownerID, BotID: botID, Client: pollingClient()}
}

func TestPollingRunnerStartStop(t *testing.T) {
	ctx := context.Background()
	p := NewPollingRunner(zerolog.Nop())

	started, err := p.Start(ctx, botRunner("alice", "mybot"))
	require.NoError(t, err)
	assert.True(t, started)

	// starting the same pair again is a no-op
	started, err = p.Start(ctx, botRunner("alice", "mybot"))
	require.NoError(t, err)
	assert.False(t, started)

	// a different pair runs independently
	started, err = p.Start(ctx, botRunner("alice", "other"))
	require.NoError(t, err)
	assert.True(t, started)

	assert.True(t, p.Stop("alice", "mybot"))
	assert.False(t, p.Stop("alice", "mybot"), "already stopped")
	assert.False(t, p.Stop("bob", "mybot"), "never ran")

	// a stopped pair can be started anew
	started, err = p.Start(ctx, botRunner("alice", "mybot"))
	require.NoError(t, err)
	assert.True(t, started)

	p.Cleanup()
}

func TestPollingRunnerStopAwaitsWorker(t *testing.T) {
	ctx := context.Background()
	p := NewPollingRunner(zerolog.Nop())

	workerDone := make(chan struct{})
	client := pollingClient()
	client.StartFunc = func(ctx context.Context) {
		<-ctx.Done()
		close(workerDone)
	}
	_, err := p.Start(ctx, &construct.BotRunner{OwnerID: "alice", BotID: "mybot", Client: client})
	require.NoError(t, err)

	require.True(t, p.Stop("alice", "mybot"))
	select {
	case <-workerDone:
	default:
		t.Fatal("Stop returned before the worker terminated")
	}
}

type fakeWebhookHost struct {
	bots map[string]*construct.BotRunner
}

func (h *fakeWebhookHost) AddBot(key string, r *construct.BotRunner) error {
	h.bots[key] = r
	return nil
}

func (h *fakeWebhookHost) RemoveBot(key string) { delete(h.bots, key) }

func TestWebhookRunnerDelegatesToHost(t *testing.T) {
	ctx := context.Background()
	host := &fakeWebhookHost{bots: make(map[string]*construct.BotRunner)}
	w := NewWebhookRunner(host, zerolog.Nop())

	started, err := w.Start(ctx, botRunner("alice", "mybot"))
	require.NoError(t, err)
	assert.True(t, started)
	assert.Contains(t, host.bots, "alice/mybot")

	started, err = w.Start(ctx, botRunner("alice", "mybot"))
	require.NoError(t, err)
	assert.False(t, started)

	assert.True(t, w.Stop("alice", "mybot"))
	assert.NotContains(t, host.bots, "alice/mybot")
	assert.False(t, w.Stop("alice", "mybot"))
}

func newReconcileDeps(t *testing.T) construct.Deps {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := kv.NewMemory(clk)
	log := zerolog.Nop()

	secretStore, err := secrets.NewKVSecretStore(backend, "testing-key", 10)
	require.NoError(t, err)
	require.NoError(t, secretStore.SaveSecret(context.Background(), "alice", "test-token", []byte("12345:token")))

	formResults := forms.NewStore(backend, log)
	return construct.Deps{
		Secrets:     secretStore,
		Store:       store.New(backend, formResults, errlog.NewStore(backend, clk), clk, log),
		Backend:     backend,
		FormResults: formResults,
		Clock:       clk,
		Log:         log,
		Factory: func(context.Context, string, *telegram.Router) (telegram.Client, error) {
			return pollingClient(), nil
		},
	}
}

func TestReconcileRestartsRecordedBots(t *testing.T) {
	ctx := context.Background()
	deps := newReconcileDeps(t)

	version, err := deps.Store.SaveBotConfig(ctx, "alice", "mybot",
		flow.BotConfig{TokenSecretName: "test-token"}, store.BotConfigVersionMetadata{})
	require.NoError(t, err)
	require.NoError(t, deps.Store.SetBotRunningVersion(ctx, "alice", "mybot", store.NumericVersion(version)))

	p := NewPollingRunner(zerolog.Nop())
	require.NoError(t, Reconcile(ctx, deps, p, zerolog.Nop()))

	assert.True(t, p.Stop("alice", "mybot"), "the recorded bot was started")
}

func TestReconcileDropsOrphanedEntries(t *testing.T) {
	ctx := context.Background()
	deps := newReconcileDeps(t)

	// a running-version entry without any stored config
	require.NoError(t, deps.Store.SetBotRunningVersion(ctx, "alice", "ghost", store.NumericVersion(0)))

	p := NewPollingRunner(zerolog.Nop())
	require.NoError(t, Reconcile(ctx, deps, p, zerolog.Nop()))

	running, err := deps.Store.IsBotRunning(ctx, "alice", "ghost")
	require.NoError(t, err)
	assert.False(t, running, "orphaned entry is removed from the map")
	assert.False(t, p.Stop("alice", "ghost"))
}

func TestReconcileKeepsEntryOnConstructionFailure(t *testing.T) {
	ctx := context.Background()
	deps := newReconcileDeps(t)

	// the config references a secret that no longer exists
	version, err := deps.Store.SaveBotConfig(ctx, "alice", "mybot",
		flow.BotConfig{TokenSecretName: "gone"}, store.BotConfigVersionMetadata{})
	require.NoError(t, err)
	require.NoError(t, deps.Store.SetBotRunningVersion(ctx, "alice", "mybot", store.NumericVersion(version)))

	p := NewPollingRunner(zerolog.Nop())
	require.NoError(t, Reconcile(ctx, deps, p, zerolog.Nop()))

	running, err := deps.Store.IsBotRunning(ctx, "alice", "mybot")
	require.NoError(t, err)
	assert.True(t, running, "entry is kept so a later boot can retry")
	assert.False(t, p.Stop("alice", "mybot"))
}
