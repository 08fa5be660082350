package construct

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/secrets"
	"github.com/botforge/botforge/internal/store"
	"github.com/botforge/botforge/internal/telegram"
)

type constructEnv struct {
	deps   Deps
	client *telegram.MockClient

	// lastRouter is the router handed to the factory on the most recent
	// construction.
	lastRouter *telegram.Router
	lastToken  string
}

func newConstructEnv(t *testing.T) *constructEnv {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := kv.NewMemory(clk)
	log := zerolog.Nop()

	secretStore, err := secrets.NewKVSecretStore(backend, "testing-key", 10)
	require.NoError(t, err)
	require.NoError(t, secretStore.SaveSecret(context.Background(), "alice", "test-token", []byte("12345:token")))

	formResults := forms.NewStore(backend, log)
	errStore := errlog.NewStore(backend, clk)

	env := &constructEnv{
		client: &telegram.MockClient{
			GetMeFunc: func(context.Context) (*models.User, error) {
				return &models.User{ID: 42, Username: "test_bot", IsBot: true}, nil
			},
			SendMessageFunc: func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
				return &models.Message{ID: 1}, nil
			},
		},
	}
	env.deps = Deps{
		Secrets:     secretStore,
		Store:       store.New(backend, formResults, errStore, clk, log),
		Backend:     backend,
		FormResults: formResults,
		Clock:       clk,
		Log:         log,
		Factory: func(_ context.Context, token string, router *telegram.Router) (telegram.Client, error) {
			env.lastToken = token
			env.lastRouter = router
			return env.client, nil
		},
	}
	return env
}

func blockID(id string) *flow.BlockID { return &id }

func TestConstructBotResolvesTokenAndFlow(t *testing.T) {
	ctx := context.Background()
	env := newConstructEnv(t)
	desc := "start here"

	runner, err := ConstructBot(ctx, env.deps, "alice", "mybot", flow.BotConfig{
		TokenSecretName: "test-token",
		UserFlowConfig: &flow.UserFlowConfig{
			Entrypoints: []flow.EntryPointConfig{
				{Command: &flow.CommandEntryPoint{
					EntrypointID:     "entry-start",
					Command:          "start",
					NextBlockID:      blockID("msg"),
					ShortDescription: &desc,
				}},
			},
			Blocks: []flow.BlockConfig{
				{Message: &flow.MessageBlock{BlockID: "msg", MessageText: flow.PlainText("hello")}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", runner.OwnerID)
	assert.Equal(t, "mybot", runner.BotID)
	assert.Equal(t, "12345:token", env.lastToken)
	require.Len(t, runner.BotCommands, 1)
	assert.Equal(t, "start", runner.BotCommands[0].Command)

	// the flow's handlers ended up on the router given to the factory
	var sent []string
	env.client.SendMessageFunc = func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
		sent = append(sent, params.Text)
		return &models.Message{ID: 1}, nil
	}
	env.lastRouter.Dispatch(ctx, env.client, &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   10,
			From: &models.User{ID: 7},
			Chat: models.Chat{ID: 7, Type: models.ChatTypePrivate},
			Text: "/start",
		},
	})
	assert.Equal(t, []string{"hello"}, sent)
}

func TestConstructBotMissingSecret(t *testing.T) {
	env := newConstructEnv(t)
	_, err := ConstructBot(context.Background(), env.deps, "alice", "mybot", flow.BotConfig{
		TokenSecretName: "nonexistent",
	})
	require.Error(t, err)
	assert.True(t, IsUserError(err))
	assert.Contains(t, err.Error(), `"nonexistent" is not found`)
}

func TestConstructBotRejectedToken(t *testing.T) {
	env := newConstructEnv(t)
	env.client.GetMeFunc = func(context.Context) (*models.User, error) {
		return nil, fmt.Errorf("401 unauthorized")
	}
	_, err := ConstructBot(context.Background(), env.deps, "alice", "mybot", flow.BotConfig{
		TokenSecretName: "test-token",
	})
	require.Error(t, err)
	assert.True(t, IsUserError(err))
	assert.Contains(t, err.Error(), "rejected")
}

func TestConstructBotInvalidFlowIsUserError(t *testing.T) {
	env := newConstructEnv(t)
	_, err := ConstructBot(context.Background(), env.deps, "alice", "mybot", flow.BotConfig{
		TokenSecretName: "test-token",
		UserFlowConfig: &flow.UserFlowConfig{
			Blocks: []flow.BlockConfig{
				{Message: &flow.MessageBlock{BlockID: "dup", MessageText: flow.PlainText("a")}},
				{Content: &flow.ContentBlock{BlockID: "dup"}},
			},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrInvalidFlow)
	assert.True(t, IsUserError(err))
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(userErr(nil, "bad input")))
	assert.True(t, IsUserError(fmt.Errorf("wrapped: %w", userErr(nil, "bad input"))))
	assert.False(t, IsUserError(errors.New("internal")))
}

func TestBotRunnerRunSetsCommands(t *testing.T) {
	env := newConstructEnv(t)
	var setCommands []models.BotCommand
	env.client.SetMyCommandsFunc = func(_ context.Context, params *bot.SetMyCommandsParams) (bool, error) {
		setCommands = params.Commands
		return true, nil
	}
	started := false
	env.client.StartFunc = func(context.Context) { started = true }

	runner := &BotRunner{
		OwnerID:     "alice",
		BotID:       "mybot",
		Client:      env.client,
		BotCommands: []models.BotCommand{{Command: "start", Description: "start here"}},
	}
	require.NoError(t, runner.Run(context.Background()))
	assert.True(t, started)
	require.Len(t, setCommands, 1)
	assert.Equal(t, "start", setCommands[0].Command)
}
