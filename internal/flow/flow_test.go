package flow

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/telegram"
)

// flowEnv is a fully set-up flow with a recording client, ready to
// receive dispatched updates.
type flowEnv struct {
	flow   *UserFlow
	sctx   *SetupContext
	router *telegram.Router
	client *telegram.MockClient
	clk    *clock.Mock
	forms  *forms.Store

	sent []*bot.SendMessageParams
}

func setupFlow(t *testing.T, cfg UserFlowConfig) *flowEnv {
	t.Helper()
	env := &flowEnv{clk: clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	backend := kv.NewMemory(env.clk)

	f, err := NewUserFlow(cfg)
	require.NoError(t, err)
	env.flow = f

	env.client = &telegram.MockClient{
		SendMessageFunc: func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
			env.sent = append(env.sent, params)
			return &models.Message{ID: len(env.sent)}, nil
		},
	}
	env.router = telegram.NewRouter(zerolog.Nop())
	env.forms = forms.NewStore(backend, zerolog.Nop())
	env.sctx = &SetupContext{
		OwnerID:     "alice",
		BotID:       "testbot",
		Client:      env.client,
		Router:      env.router,
		Backend:     backend,
		Clock:       env.clk,
		Log:         zerolog.Nop(),
		FormResults: env.forms,
	}
	_, err = f.Setup(env.sctx)
	require.NoError(t, err)
	return env
}

func (env *flowEnv) dispatch(update *models.Update) {
	env.router.Dispatch(context.Background(), env.client, update)
}

// sentTexts flattens the recorded sends for order assertions.
func (env *flowEnv) sentTexts() []string {
	out := make([]string, 0, len(env.sent))
	for _, p := range env.sent {
		out = append(out, p.Text)
	}
	return out
}

// newBareSetupContext is for setup-failure tests that never dispatch.
func newBareSetupContext(t *testing.T) *SetupContext {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return &SetupContext{
		OwnerID: "alice",
		BotID:   "testbot",
		Router:  telegram.NewRouter(zerolog.Nop()),
		Backend: kv.NewMemory(clk),
		Clock:   clk,
		Log:     zerolog.Nop(),
	}
}

func privateMessage(userID int64, text string) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   10,
			From: &models.User{ID: userID, FirstName: "Jane", LastName: "Doe"},
			Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
			Text: text,
		},
	}
}

func callbackUpdate(userID int64, data string) *models.Update {
	return &models.Update{
		ID: 2,
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			From: models.User{ID: userID, FirstName: "Jane", LastName: "Doe"},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{
					ID:   10,
					Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
				},
			},
		},
	}
}

func blockID(id string) *BlockID { return &id }

func messageFlow(command string, text string) UserFlowConfig {
	return UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Command: &CommandEntryPoint{
				EntrypointID: "entry-" + command,
				Command:      command,
				NextBlockID:  blockID("msg"),
			}},
		},
		Blocks: []BlockConfig{
			{Message: &MessageBlock{BlockID: "msg", MessageText: PlainText(text)}},
		},
	}
}

func TestFlowValidationRejectsDuplicateIDs(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Command: &CommandEntryPoint{EntrypointID: "dup", Command: "start"}},
		},
		Blocks: []BlockConfig{
			{Message: &MessageBlock{BlockID: "dup", MessageText: PlainText("hi")}},
		},
	}
	_, err := NewUserFlow(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestFlowValidationRejectsMultipleCatchAlls(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{CatchAll: &CatchAllEntryPoint{EntrypointID: "any-1"}},
			{CatchAll: &CatchAllEntryPoint{EntrypointID: "any-2"}},
		},
	}
	_, err := NewUserFlow(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}

func TestFlowValidationRejectsAmbiguousUnions(t *testing.T) {
	// zero members set
	_, err := NewUserFlow(UserFlowConfig{Entrypoints: []EntryPointConfig{{}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)

	// two members set
	_, err = NewUserFlow(UserFlowConfig{Blocks: []BlockConfig{{
		Message: &MessageBlock{BlockID: "a", MessageText: PlainText("hi")},
		Content: &ContentBlock{BlockID: "b"},
	}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}

func TestFlowValidationRejectsSecondLanguageSelect(t *testing.T) {
	lang := func(id string) BlockConfig {
		return BlockConfig{LanguageSelect: &LanguageSelectBlock{
			BlockID:            id,
			MenuConfig:         LangSelect{PromptText: PlainText("language?")},
			SupportedLanguages: []Language{"en"},
			DefaultLanguage:    "en",
		}}
	}
	_, err := NewUserFlow(UserFlowConfig{Blocks: []BlockConfig{lang("lang-1"), lang("lang-2")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}

func TestSetupRejectsDanglingReference(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Command: &CommandEntryPoint{
				EntrypointID: "entry-start",
				Command:      "start",
				NextBlockID:  blockID("missing"),
			}},
		},
	}
	f, err := NewUserFlow(cfg)
	require.NoError(t, err)
	_, err = f.Setup(newBareSetupContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
	assert.Contains(t, err.Error(), `unknown block "missing"`)
}

func TestEnterBlockPersistsActiveBlock(t *testing.T) {
	env := setupFlow(t, messageFlow("start", "welcome"))

	env.dispatch(privateMessage(7, "/start"))
	assert.Equal(t, []string{"welcome"}, env.sentTexts())

	active, ok, err := env.flow.ActiveBlock(context.Background(), env.sctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "msg", active)

	// other users have no recorded position
	_, ok, err = env.flow.ActiveBlock(context.Background(), env.sctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnterBlockIgnoresBannedUsers(t *testing.T) {
	env := setupFlow(t, messageFlow("start", "welcome"))
	require.NoError(t, env.flow.banned.Ban(context.Background(), 7))

	env.dispatch(privateMessage(7, "/start"))
	assert.Empty(t, env.sent)

	_, ok, err := env.flow.ActiveBlock(context.Background(), env.sctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnterBlockUnknownTarget(t *testing.T) {
	env := setupFlow(t, messageFlow("start", "welcome"))
	fctx := &Context{Setup: env.sctx, User: &models.User{ID: 7}, ChatID: 7}
	err := env.flow.EnterBlock(context.Background(), fctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestCatchAllEntrypointYieldsToCommands(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Command: &CommandEntryPoint{
				EntrypointID: "entry-start",
				Command:      "start",
				NextBlockID:  blockID("hello"),
			}},
			{CatchAll: &CatchAllEntryPoint{
				EntrypointID: "entry-any",
				NextBlockID:  blockID("fallback"),
			}},
		},
		Blocks: []BlockConfig{
			{Message: &MessageBlock{BlockID: "hello", MessageText: PlainText("hello")}},
			{Message: &MessageBlock{BlockID: "fallback", MessageText: PlainText("did not get that")}},
		},
	}
	env := setupFlow(t, cfg)

	env.dispatch(privateMessage(7, "/start"))
	env.dispatch(privateMessage(7, "anything else"))
	assert.Equal(t, []string{"hello", "did not get that"}, env.sentTexts())
}

func TestRegexEntrypoint(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Regex: &RegexMatchEntryPoint{
				EntrypointID: "entry-greeting",
				Regex:        "(?i)^hello",
				NextBlockID:  blockID("msg"),
			}},
		},
		Blocks: []BlockConfig{
			{Message: &MessageBlock{BlockID: "msg", MessageText: PlainText("hi there")}},
		},
	}
	env := setupFlow(t, cfg)

	env.dispatch(privateMessage(7, "HELLO bot"))
	assert.Equal(t, []string{"hi there"}, env.sentTexts())

	env.dispatch(privateMessage(7, "goodbye"))
	assert.Len(t, env.sent, 1)
}
