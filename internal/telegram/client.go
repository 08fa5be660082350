// Package telegram wraps the go-telegram bot library behind an interface
// the rest of the application depends on, adds an update router that hosted
// bots register their handlers on, and provides the rate-limit-aware retry
// used for all platform calls.
package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Client defines the methods required from the Telegram bot.
type Client interface {
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendMediaGroup(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error)
	CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
	// Start runs the long-polling loop until ctx is cancelled.
	Start(ctx context.Context)
}

// BotClient is the production Client backed by *bot.Bot.
type BotClient struct {
	bot *bot.Bot
}

var _ Client = (*BotClient)(nil)

func (c *BotClient) GetMe(ctx context.Context) (*models.User, error) {
	return c.bot.GetMe(ctx)
}

func (c *BotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return c.bot.SendMessage(ctx, params)
}

func (c *BotClient) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	return c.bot.SendPhoto(ctx, params)
}

func (c *BotClient) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error) {
	return c.bot.SendDocument(ctx, params)
}

func (c *BotClient) SendMediaGroup(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error) {
	return c.bot.SendMediaGroup(ctx, params)
}

func (c *BotClient) CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error) {
	return c.bot.CopyMessage(ctx, params)
}

func (c *BotClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	return c.bot.EditMessageText(ctx, params)
}

func (c *BotClient) EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	return c.bot.EditMessageReplyMarkup(ctx, params)
}

func (c *BotClient) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	return c.bot.DeleteMessage(ctx, params)
}

func (c *BotClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return c.bot.AnswerCallbackQuery(ctx, params)
}

func (c *BotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return c.bot.GetFile(ctx, params)
}

func (c *BotClient) FileDownloadLink(f *models.File) string {
	return c.bot.FileDownloadLink(f)
}

func (c *BotClient) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	return c.bot.GetChat(ctx, params)
}

func (c *BotClient) SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	return c.bot.SetMyCommands(ctx, params)
}

func (c *BotClient) Start(ctx context.Context) {
	c.bot.Start(ctx)
}

// Factory builds a Client for the given token with updates routed through
// the router. Injected into the construction pipeline for testability.
type Factory func(ctx context.Context, token string, router *Router) (Client, error)

// NewClientFactory returns the production Factory. The initial getMe is
// skipped here; token validation is an explicit step of bot construction.
func NewClientFactory() Factory {
	return func(_ context.Context, token string, router *Router) (Client, error) {
		var client *BotClient
		handler := func(hctx context.Context, _ *bot.Bot, update *models.Update) {
			router.Dispatch(hctx, client, update)
		}
		b, err := bot.New(token, bot.WithDefaultHandler(handler), bot.WithSkipGetMe())
		if err != nil {
			return nil, err
		}
		client = &BotClient{bot: b}
		return client, nil
	}
}
