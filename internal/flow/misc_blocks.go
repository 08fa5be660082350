package flow

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/telegram"
)

// BotErrorBlock fails on enter; it exists to exercise the error capture
// pipeline end to end.
type BotErrorBlock struct {
	BlockID string `json:"block_id"`
}

func (b *BotErrorBlock) ID() BlockID { return b.BlockID }

func (b *BotErrorBlock) PossibleNextBlockIDs() []BlockID { return nil }

func (b *BotErrorBlock) IsCatchAll() bool { return false }

func (b *BotErrorBlock) Setup(sctx *SetupContext) (SetupResult, error) { return SetupResult{}, nil }

func (b *BotErrorBlock) Enter(ctx context.Context, fctx *Context) error {
	return fmt.Errorf("simulated error in block %q", b.BlockID)
}

// MessageBlock is the legacy single-text block kept for old configs; new
// flows use ContentBlock.
type MessageBlock struct {
	BlockID     string   `json:"block_id"`
	MessageText Text     `json:"message_text"`
	NextBlockID *BlockID `json:"next_block_id,omitempty"`
}

func (b *MessageBlock) ID() BlockID { return b.BlockID }

func (b *MessageBlock) PossibleNextBlockIDs() []BlockID { return optionalNext(b.NextBlockID) }

func (b *MessageBlock) IsCatchAll() bool { return false }

func (b *MessageBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	if b.MessageText.IsEmpty() {
		return SetupResult{}, invalidFlow("message block %q has no text", b.BlockID)
	}
	if err := b.MessageText.ValidateCoverage(sctx.Languages()); err != nil {
		return SetupResult{}, invalidFlow("message block %q: %s", b.BlockID, err)
	}
	return SetupResult{}, nil
}

func (b *MessageBlock) Enter(ctx context.Context, fctx *Context) error {
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return fctx.Setup.Client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: fctx.ChatID,
			Text:   b.MessageText.Localize(fctx.Language, fctx.Setup.defaultLanguage()),
		})
	})
	if err != nil {
		return err
	}
	if b.NextBlockID != nil {
		return fctx.EnterBlock(ctx, *b.NextBlockID)
	}
	return nil
}

var (
	_ Block = (*BotErrorBlock)(nil)
	_ Block = (*MessageBlock)(nil)
)
