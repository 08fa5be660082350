package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/telegram"
)

// LanguageSelectBlock lets the user pick the flow's language; at most one
// per flow. The blocking variant uses a reply keyboard and holds the user
// until a valid choice; the non-blocking variant uses inline buttons.
type LanguageSelectBlock struct {
	BlockID                     string     `json:"block_id"`
	MenuConfig                  LangSelect `json:"menu_config"`
	SupportedLanguages          []Language `json:"supported_languages"`
	DefaultLanguage             Language   `json:"default_language"`
	LanguageSelectedNextBlockID *BlockID   `json:"language_selected_next_block_id,omitempty"`
}

type LangSelect struct {
	PromptText Text `json:"propmt"`
	IsBlocking bool `json:"is_blocking,omitempty"`
}

func (b *LanguageSelectBlock) ID() BlockID { return b.BlockID }

func (b *LanguageSelectBlock) PossibleNextBlockIDs() []BlockID {
	return optionalNext(b.LanguageSelectedNextBlockID)
}

func (b *LanguageSelectBlock) IsCatchAll() bool { return false }

func (b *LanguageSelectBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	if len(b.SupportedLanguages) == 0 {
		return SetupResult{}, invalidFlow("language select block %q declares no languages", b.BlockID)
	}
	if !b.supports(b.DefaultLanguage) {
		return SetupResult{}, invalidFlow("language select block %q: default language %q is not in the supported set", b.BlockID, b.DefaultLanguage)
	}
	if err := b.MenuConfig.PromptText.ValidateCoverage(b.SupportedLanguages); err != nil {
		return SetupResult{}, invalidFlow("language select block %q: %s", b.BlockID, err)
	}

	if b.MenuConfig.IsBlocking {
		sctx.Router.Handle("language-select:"+b.BlockID, formHandlerPriority,
			func(u *models.Update) bool {
				return u.Message != nil && u.Message.From != nil
			},
			func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
				return b.handleReply(ctx, sctx, upd)
			})
	} else {
		sctx.Router.HandleCallback(b.callbackPrefix(), func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
			return b.handleCallback(ctx, sctx, upd)
		})
	}
	return SetupResult{}, nil
}

func (b *LanguageSelectBlock) supports(lang Language) bool {
	for _, l := range b.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func (b *LanguageSelectBlock) callbackPrefix() string { return "lang:" + b.BlockID + ":" }

func (b *LanguageSelectBlock) Enter(ctx context.Context, fctx *Context) error {
	prompt := b.MenuConfig.PromptText.Localize(fctx.Language, b.DefaultLanguage)
	var markup models.ReplyMarkup
	if b.MenuConfig.IsBlocking {
		var rows [][]models.KeyboardButton
		for _, lang := range b.SupportedLanguages {
			rows = append(rows, []models.KeyboardButton{{Text: lang}})
		}
		markup = models.ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true, OneTimeKeyboard: true}
	} else {
		var row []models.InlineKeyboardButton
		for _, lang := range b.SupportedLanguages {
			row = append(row, models.InlineKeyboardButton{
				Text:         lang,
				CallbackData: b.callbackPrefix() + lang,
			})
		}
		markup = &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
	}
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return fctx.Setup.Client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      fctx.ChatID,
			Text:        prompt,
			ReplyMarkup: markup,
		})
	})
	return err
}

// handleReply consumes messages only while the user sits in this block.
func (b *LanguageSelectBlock) handleReply(ctx context.Context, sctx *SetupContext, upd *models.Update) error {
	active, ok, err := sctx.flow.ActiveBlock(ctx, sctx, upd.Message.From.ID)
	if err != nil {
		return err
	}
	if !ok || active != b.BlockID {
		return telegram.ErrSkipHandler
	}
	choice := strings.TrimSpace(upd.Message.Text)
	fctx, err := sctx.newContext(ctx, upd)
	if err != nil {
		return err
	}
	if !b.supports(choice) {
		return b.Enter(ctx, fctx)
	}
	return b.selectLanguage(ctx, sctx, fctx, choice)
}

func (b *LanguageSelectBlock) handleCallback(ctx context.Context, sctx *SetupContext, upd *models.Update) error {
	cq := upd.CallbackQuery
	choice := strings.TrimPrefix(cq.Data, b.callbackPrefix())
	if !b.supports(choice) {
		return fmt.Errorf("language select block %q: callback for unsupported language %q", b.BlockID, choice)
	}
	if _, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (bool, error) {
		return sctx.Client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
	}); err != nil {
		sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to answer callback query")
	}
	fctx, err := sctx.newContext(ctx, upd)
	if err != nil {
		return err
	}
	return b.selectLanguage(ctx, sctx, fctx, choice)
}

func (b *LanguageSelectBlock) selectLanguage(ctx context.Context, sctx *SetupContext, fctx *Context, lang Language) error {
	if err := sctx.flow.languages.Save(ctx, sctx.flow.userKey(sctx, fctx.User.ID), lang); err != nil {
		return err
	}
	fctx.Language = lang
	if b.LanguageSelectedNextBlockID != nil {
		return fctx.EnterBlock(ctx, *b.LanguageSelectedNextBlockID)
	}
	return nil
}

var _ Block = (*LanguageSelectBlock)(nil)
