package flow

import (
	"context"
	"regexp"

	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/telegram"
)

// CommandEntryPoint routes "/command" messages into the flow.
type CommandEntryPoint struct {
	EntrypointID     string             `json:"entrypoint_id"`
	Command          string             `json:"command"`
	Scope            telegram.ChatScope `json:"scope,omitempty"`
	NextBlockID      *BlockID           `json:"next_block_id,omitempty"`
	ShortDescription *string            `json:"short_description,omitempty"`
}

func (e *CommandEntryPoint) ID() BlockID { return e.EntrypointID }

func (e *CommandEntryPoint) PossibleNextBlockIDs() []BlockID { return optionalNext(e.NextBlockID) }

func (e *CommandEntryPoint) IsCatchAll() bool { return false }

func (e *CommandEntryPoint) Setup(sctx *SetupContext) (SetupResult, error) {
	scope := e.Scope
	if scope == "" {
		scope = telegram.ChatScopeAny
	}
	sctx.Router.HandleCommand(e.Command, scope, enterNextHandler(sctx, e.NextBlockID))
	var result SetupResult
	if e.ShortDescription != nil {
		result.BotCommands = append(result.BotCommands, models.BotCommand{
			Command:     e.Command,
			Description: *e.ShortDescription,
		})
	}
	return result, nil
}

// RegexMatchEntryPoint routes messages whose text matches the pattern.
// It counts as catch-all when the pattern matches both the empty string
// and arbitrary non-empty text.
type RegexMatchEntryPoint struct {
	EntrypointID string   `json:"entrypoint_id"`
	Regex        string   `json:"regex"`
	NextBlockID  *BlockID `json:"next_block_id,omitempty"`
}

func (e *RegexMatchEntryPoint) ID() BlockID { return e.EntrypointID }

func (e *RegexMatchEntryPoint) PossibleNextBlockIDs() []BlockID { return optionalNext(e.NextBlockID) }

func (e *RegexMatchEntryPoint) IsCatchAll() bool {
	re, err := regexp.Compile(e.Regex)
	if err != nil {
		return false
	}
	return re.MatchString("") && re.MatchString("a")
}

func (e *RegexMatchEntryPoint) Setup(sctx *SetupContext) (SetupResult, error) {
	re, err := regexp.Compile(e.Regex)
	if err != nil {
		return SetupResult{}, invalidFlow("entrypoint %q has a bad regex: %s", e.EntrypointID, err)
	}
	sctx.Router.HandleRegex(re, enterNextHandler(sctx, e.NextBlockID))
	return SetupResult{}, nil
}

// CatchAllEntryPoint routes any message not claimed by another handler.
type CatchAllEntryPoint struct {
	EntrypointID string   `json:"entrypoint_id"`
	NextBlockID  *BlockID `json:"next_block_id,omitempty"`
}

func (e *CatchAllEntryPoint) ID() BlockID { return e.EntrypointID }

func (e *CatchAllEntryPoint) PossibleNextBlockIDs() []BlockID { return optionalNext(e.NextBlockID) }

func (e *CatchAllEntryPoint) IsCatchAll() bool { return true }

func (e *CatchAllEntryPoint) Setup(sctx *SetupContext) (SetupResult, error) {
	sctx.Router.HandleCatchAll("catch-all:"+e.EntrypointID, enterNextHandler(sctx, e.NextBlockID))
	return SetupResult{}, nil
}

func optionalNext(next *BlockID) []BlockID {
	if next == nil {
		return nil
	}
	return []BlockID{*next}
}

// enterNextHandler builds an update handler transitioning the sender into
// the configured next block; a nil target makes the entrypoint inert.
func enterNextHandler(sctx *SetupContext, next *BlockID) telegram.HandlerFunc {
	return func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
		if next == nil {
			return nil
		}
		fctx, err := sctx.newContext(ctx, upd)
		if err != nil {
			return err
		}
		return fctx.EnterBlock(ctx, *next)
	}
}
