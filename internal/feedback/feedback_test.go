package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/telegram"
)

const adminChatID = int64(-100900)

type feedbackEnv struct {
	handler *Handler
	client  *telegram.MockClient
	clk     *clock.Mock

	sent   []*bot.SendMessageParams
	copied []*bot.CopyMessageParams
}

func setupFeedback(t *testing.T, cfg Config) *feedbackEnv {
	t.Helper()
	env := &feedbackEnv{clk: clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	cfg.AdminChatID = adminChatID
	env.handler = NewHandler(cfg, "alice/testbot", kv.NewMemory(env.clk), env.clk, zerolog.Nop())
	env.client = &telegram.MockClient{
		SendMessageFunc: func(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
			env.sent = append(env.sent, params)
			return &models.Message{ID: 1000 + len(env.sent)}, nil
		},
		CopyMessageFunc: func(_ context.Context, params *bot.CopyMessageParams) (*models.MessageID, error) {
			env.copied = append(env.copied, params)
			return &models.MessageID{ID: 2000 + len(env.copied)}, nil
		},
	}
	return env
}

func userMessage(userID int64, msgID int, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:   msgID,
			From: &models.User{ID: userID, FirstName: "Jane", LastName: "Doe", Username: "jdoe"},
			Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
			Text: text,
		},
	}
}

func adminMessage(text string, replyTo *models.Message) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:             500,
			From:           &models.User{ID: 1},
			Chat:           models.Chat{ID: adminChatID, Type: models.ChatTypeSupergroup},
			Text:           text,
			ReplyToMessage: replyTo,
		},
	}
}

func TestUserMessageIsCopiedToAdminChat(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{})

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "help me")))
	require.Len(t, env.copied, 1)
	assert.Equal(t, adminChatID, env.copied[0].ChatID)
	assert.Equal(t, int64(7), env.copied[0].FromChatID)
	assert.Equal(t, 10, env.copied[0].MessageID)
	assert.Empty(t, env.sent, "no hashtags configured, nothing else is sent")
}

func TestAnonymizedMessageIsReSent(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{FullAnonymization: true})

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "help me")))
	assert.Empty(t, env.copied, "anonymized mode never copies the original message")
	require.Len(t, env.sent, 1)
	assert.Equal(t, adminChatID, env.sent[0].ChatID)
	assert.Equal(t, "help me", env.sent[0].Text)
}

func TestHashtagHeaderIsThrottled(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{Hashtags: []string{"feedback", "#support"}})

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "one")))
	require.Len(t, env.sent, 1)
	assert.Equal(t, "#feedback #support", env.sent[0].Text)

	// within the quiet period the header is not repeated
	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 11, "two")))
	assert.Len(t, env.sent, 1)

	env.clk.Advance(hashtagRarerThan + time.Minute)
	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 12, "three")))
	assert.Len(t, env.sent, 2)
}

func TestAdminReplyRoutesBackToUser(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{})

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "question")))
	require.Len(t, env.copied, 1)
	adminMsgID := 2001

	err := env.handler.HandleAdminMessage(ctx, env.client,
		adminMessage("here is your answer", &models.Message{ID: adminMsgID}))
	require.NoError(t, err)
	require.Len(t, env.sent, 1)
	assert.Equal(t, int64(7), env.sent[0].ChatID)
	assert.Equal(t, "here is your answer", env.sent[0].Text)

	// replies to non-forwarded messages go nowhere
	err = env.handler.HandleAdminMessage(ctx, env.client,
		adminMessage("to whom?", &models.Message{ID: 999}))
	require.NoError(t, err)
	assert.Len(t, env.sent, 1)
}

func TestAdminMessagesOutsideAdminChatAreSkipped(t *testing.T) {
	env := setupFeedback(t, Config{})
	err := env.handler.HandleAdminMessage(context.Background(), env.client, userMessage(7, 10, "hi"))
	assert.ErrorIs(t, err, telegram.ErrSkipHandler)
}

func TestLogCommandDumpsRecentMessages(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{})

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "first")))
	env.clk.Advance(time.Minute)
	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 11, "second")))

	require.NoError(t, env.handler.HandleAdminMessage(ctx, env.client, adminMessage("/log", nil)))
	require.Len(t, env.sent, 1)
	dump := env.sent[0].Text
	assert.Contains(t, dump, "Jane Doe (@jdoe): first")
	assert.Contains(t, dump, "Jane Doe (@jdoe): second")
}

func TestLogCommandWithNoTraffic(t *testing.T) {
	env := setupFeedback(t, Config{})
	require.NoError(t, env.handler.HandleAdminMessage(context.Background(), env.client, adminMessage("/log", nil)))
	require.Len(t, env.sent, 1)
	assert.Equal(t, "No messages logged yet.", env.sent[0].Text)
}

func TestThrottleSoftBan(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{MaxMessagesPerMinute: 1})

	// the burst allowance is 5x the per-minute rate
	delivered := 0
	for i := 0; i < 30; i++ {
		before := len(env.copied)
		require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 100+i, "spam")))
		if len(env.copied) > before {
			delivered++
		}
	}
	assert.Equal(t, 5, delivered)

	// other users are unaffected
	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(8, 200, "legit")))
	assert.Equal(t, int64(8), env.copied[len(env.copied)-1].FromChatID)
}

func TestEmulateUserMessage(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{})

	user := &models.User{ID: 7, FirstName: "Jane"}
	require.NoError(t, env.handler.EmulateUserMessage(ctx, env.client, user, "<b>Name</b>: Jane"))
	require.Len(t, env.sent, 1)
	assert.Equal(t, adminChatID, env.sent[0].ChatID)
	assert.Equal(t, "<b>Name</b>: Jane", env.sent[0].Text)
	assert.Equal(t, models.ParseModeHTML, env.sent[0].ParseMode)
}

func TestThrottleStatePruning(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{MaxMessagesPerMinute: 1})

	for i := 0; i < 30; i++ {
		require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 100+i, "spam")))
	}
	env.handler.mu.Lock()
	assert.NotEmpty(t, env.handler.violations)
	assert.NotEmpty(t, env.handler.limiters)
	env.handler.mu.Unlock()

	// still within the ban window: nothing is pruned
	env.handler.pruneThrottleState()
	env.handler.mu.Lock()
	assert.NotEmpty(t, env.handler.violations)
	env.handler.mu.Unlock()

	env.clk.Advance(softBanDuration + throttleWindow + time.Minute)
	env.handler.pruneThrottleState()
	env.handler.mu.Lock()
	assert.Empty(t, env.handler.violations)
	assert.Empty(t, env.handler.limiters)
	env.handler.mu.Unlock()
}

func TestLogPageHandler(t *testing.T) {
	ctx := context.Background()
	env := setupFeedback(t, Config{})
	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		env.handler.LogPageHandler()(rec, httptest.NewRequest(http.MethodGet, "/api/feedback-log/alice/testbot/op", nil))
		return rec
	}

	rec := serve()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 10, "first")))
	require.NoError(t, env.handler.HandleUserMessage(ctx, env.client, userMessage(7, 11, "second")))

	rec = serve()
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []logEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Text)
	assert.Equal(t, "second", entries[1].Text)
	assert.Contains(t, entries[0].User, "Jane Doe")
}
