package flow

import (
	"context"
	"net/http"

	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/feedback"
	"github.com/botforge/botforge/internal/telegram"
)

// humanOperatorPriority keeps operator traffic ahead of catch-all
// entrypoints but below active forms.
const humanOperatorPriority = 50

// HumanOperatorBlock is terminal: once entered, the user talks to a human
// through the bot's feedback channel.
type HumanOperatorBlock struct {
	BlockID        string          `json:"block_id"`
	CatchAll       bool            `json:"catch_all,omitempty"`
	FeedbackConfig feedback.Config `json:"feedback_handler_config"`

	handler *feedback.Handler
}

func (b *HumanOperatorBlock) ID() BlockID { return b.BlockID }

func (b *HumanOperatorBlock) PossibleNextBlockIDs() []BlockID { return nil }

func (b *HumanOperatorBlock) IsCatchAll() bool { return b.CatchAll }

func (b *HumanOperatorBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	if b.FeedbackConfig.AdminChatID == 0 {
		return SetupResult{}, invalidFlow("human operator block %q has no admin chat id", b.BlockID)
	}
	b.handler = feedback.NewHandler(b.FeedbackConfig, sctx.BotPrefix(), sctx.Backend, sctx.Clock, sctx.Log)
	sctx.flow.feedback = b.handler

	sctx.Router.Handle("human-operator-admin:"+b.BlockID, humanOperatorPriority+1,
		func(u *models.Update) bool {
			return u.Message != nil && u.Message.Chat.ID == b.FeedbackConfig.AdminChatID
		},
		func(ctx context.Context, client telegram.Client, upd *models.Update) error {
			return b.handler.HandleAdminMessage(ctx, client, upd)
		})

	sctx.Router.Handle("human-operator:"+b.BlockID, humanOperatorPriority,
		func(u *models.Update) bool {
			return u.Message != nil && u.Message.From != nil && u.Message.Chat.Type == models.ChatTypePrivate
		},
		func(ctx context.Context, client telegram.Client, upd *models.Update) error {
			return b.handleUserMessage(ctx, sctx, client, upd)
		})

	return SetupResult{
		BackgroundJobs: []BackgroundJob{b.handler.RunMaintenance},
		AuxEndpoints: []AuxEndpoint{{
			Method:  http.MethodGet,
			Path:    "/api/feedback-log/" + sctx.BotPrefix() + "/" + b.BlockID,
			Handler: b.handler.LogPageHandler(),
		}},
	}, nil
}

// handleUserMessage forwards messages only from users currently in this
// block; everyone else falls through to the rest of the handler chain.
func (b *HumanOperatorBlock) handleUserMessage(ctx context.Context, sctx *SetupContext, client telegram.Client, upd *models.Update) error {
	active, ok, err := sctx.flow.ActiveBlock(ctx, sctx, upd.Message.From.ID)
	if err != nil {
		return err
	}
	if !ok || active != b.BlockID {
		return telegram.ErrSkipHandler
	}
	return b.handler.HandleUserMessage(ctx, client, upd)
}

func (b *HumanOperatorBlock) Enter(ctx context.Context, fctx *Context) error {
	// entering is silent: the next message from the user goes to the
	// operator chat
	return nil
}

var _ Block = (*HumanOperatorBlock)(nil)
