package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client for testing. Each method
// prefers the overridable func field when set and falls back to the
// testify expectation machinery otherwise.
type MockClient struct {
	mock.Mock
	GetMeFunc          func(ctx context.Context) (*models.User, error)
	SendMessageFunc    func(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhotoFunc      func(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendDocumentFunc   func(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendMediaGroupFunc func(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error)
	CopyMessageFunc    func(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error)
	EditTextFunc       func(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	EditMarkupFunc     func(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	DeleteMessageFunc  func(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackFunc func(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetFileFunc        func(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	DownloadLinkFunc   func(f *models.File) string
	GetChatFunc        func(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	SetMyCommandsFunc  func(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
	StartFunc          func(ctx context.Context)
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) GetMe(ctx context.Context) (*models.User, error) {
	if m.GetMeFunc != nil {
		return m.GetMeFunc(ctx)
	}
	args := m.Called(ctx)
	if user, ok := args.Get(0).(*models.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	if m.SendPhotoFunc != nil {
		return m.SendPhotoFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error) {
	if m.SendDocumentFunc != nil {
		return m.SendDocumentFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SendMediaGroup(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error) {
	if m.SendMediaGroupFunc != nil {
		return m.SendMediaGroupFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msgs, ok := args.Get(0).([]*models.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error) {
	if m.CopyMessageFunc != nil {
		return m.CopyMessageFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if id, ok := args.Get(0).(*models.MessageID); ok {
		return id, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	if m.EditTextFunc != nil {
		return m.EditTextFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	if m.EditMarkupFunc != nil {
		return m.EditMarkupFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	if m.AnswerCallbackFunc != nil {
		return m.AnswerCallbackFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if f, ok := args.Get(0).(*models.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) FileDownloadLink(f *models.File) string {
	if m.DownloadLinkFunc != nil {
		return m.DownloadLinkFunc(f)
	}
	args := m.Called(f)
	return args.String(0)
}

func (m *MockClient) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	if m.GetChatFunc != nil {
		return m.GetChatFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if chat, ok := args.Get(0).(*models.ChatFullInfo); ok {
		return chat, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	if m.SetMyCommandsFunc != nil {
		return m.SetMyCommandsFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) Start(ctx context.Context) {
	if m.StartFunc != nil {
		m.StartFunc(ctx)
		return
	}
	m.Called(ctx)
}
