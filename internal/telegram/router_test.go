package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageUpdate(chatType models.ChatType, text string) *models.Update {
	return &models.Update{
		ID: 100,
		Message: &models.Message{
			ID:   1,
			From: &models.User{ID: 123, FirstName: "User"},
			Chat: models.Chat{ID: 456, Type: chatType},
			Text: text,
		},
	}
}

func callbackUpdate(data string) *models.Update {
	return &models.Update{
		ID: 101,
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			From: models.User{ID: 123},
			Data: data,
		},
	}
}

func TestRouterCommandDispatch(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	client := &MockClient{}

	var handled []string
	router.HandleCommand("start", ChatScopePrivate, func(context.Context, Client, *models.Update) error {
		handled = append(handled, "start")
		return nil
	})
	router.HandleCommand("help", ChatScopeAny, func(context.Context, Client, *models.Update) error {
		handled = append(handled, "help")
		return nil
	})

	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypePrivate, "/start"))
	assert.Equal(t, []string{"start"}, handled)

	// command with a bot mention still matches
	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypePrivate, "/help@somebot"))
	assert.Equal(t, []string{"start", "help"}, handled)

	// private-scoped command ignores group chats
	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypeGroup, "/start"))
	assert.Equal(t, []string{"start", "help"}, handled)
}

func TestRouterPriorityAndFirstMatchWins(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	client := &MockClient{}

	var handled []string
	router.HandleCatchAll("fallback", func(context.Context, Client, *models.Update) error {
		handled = append(handled, "fallback")
		return nil
	})
	router.Handle("priority", 100, func(u *models.Update) bool { return u.Message != nil }, func(context.Context, Client, *models.Update) error {
		handled = append(handled, "priority")
		return nil
	})

	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypePrivate, "hello"))
	assert.Equal(t, []string{"priority"}, handled, "highest priority handler wins despite registration order")
}

func TestRouterSkipHandlerFallsThrough(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	client := &MockClient{}

	var handled []string
	var metricNames []string
	router.SetMetricsHandler(func(_ context.Context, m UpdateMetrics) {
		metricNames = append(metricNames, m.HandlerName)
	})
	router.Handle("stateful", 100, func(u *models.Update) bool { return u.Message != nil }, func(context.Context, Client, *models.Update) error {
		return ErrSkipHandler
	})
	router.HandleCatchAll("fallback", func(context.Context, Client, *models.Update) error {
		handled = append(handled, "fallback")
		return nil
	})

	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypePrivate, "hello"))
	assert.Equal(t, []string{"fallback"}, handled, "skipped handler passes the update on")
	assert.Equal(t, []string{"fallback"}, metricNames, "skipped handlers emit no metrics")
}

func TestRouterCallbackPrefix(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	client := &MockClient{}

	var payloads []string
	router.HandleCallback("menu:", func(_ context.Context, _ Client, u *models.Update) error {
		payloads = append(payloads, u.CallbackQuery.Data)
		return nil
	})

	router.Dispatch(context.Background(), client, callbackUpdate("menu:abc-1"))
	router.Dispatch(context.Background(), client, callbackUpdate("other:xyz"))
	assert.Equal(t, []string{"menu:abc-1"}, payloads)
}

func TestRouterMetricsOnError(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	client := &MockClient{}

	var captured []UpdateMetrics
	router.SetMetricsHandler(func(_ context.Context, m UpdateMetrics) {
		captured = append(captured, m)
	})
	router.HandleCatchAll("failing", func(context.Context, Client, *models.Update) error {
		return errors.New("handler exploded")
	})

	router.Dispatch(context.Background(), client, messageUpdate(models.ChatTypePrivate, "hello"))
	require.Len(t, captured, 1)
	assert.Equal(t, int64(100), captured[0].UpdateID)
	assert.Equal(t, "failing", captured[0].HandlerName)
	require.NotNil(t, captured[0].Exception)
	assert.Equal(t, "RuntimeError", captured[0].Exception.TypeName)
	assert.Contains(t, captured[0].Exception.Body, "handler exploded")
}

func TestMessageCommandParsing(t *testing.T) {
	assert.Equal(t, "start", messageCommand("/start"))
	assert.Equal(t, "start", messageCommand("/start@mybot"))
	assert.Equal(t, "start", messageCommand("/start some args"))
	assert.Equal(t, "", messageCommand("not a command"))
	assert.Equal(t, "", messageCommand(""))
}
