// Package flow implements the user-flow runtime: a directed graph of
// entrypoints (update sources) and blocks (states) with per-user active
// block tracking. The variant set is closed; configs are tagged unions
// resolved into concrete blocks before setup.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/feedback"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/media"
	"github.com/botforge/botforge/internal/telegram"
)

type BlockID = string

const (
	storePrefix    = "telebot-constructor"
	activeBlockTTL = 14 * 24 * time.Hour
)

// EntryPoint is an update source: it registers handlers at setup and
// routes matching updates into the flow.
type EntryPoint interface {
	ID() BlockID
	Setup(sctx *SetupContext) (SetupResult, error)
	PossibleNextBlockIDs() []BlockID
	IsCatchAll() bool
}

// Block is a named state a user can be in. Enter errors must not escape
// to the update loop; the dispatching router records them.
type Block interface {
	ID() BlockID
	Setup(sctx *SetupContext) (SetupResult, error)
	Enter(ctx context.Context, fctx *Context) error
	PossibleNextBlockIDs() []BlockID
	IsCatchAll() bool
}

// BackgroundJob is a long-running task owned by a constructed bot.
type BackgroundJob func(ctx context.Context) error

// AuxEndpoint is an HTTP endpoint a block asks the host app to expose.
type AuxEndpoint struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// SetupResult aggregates everything blocks register during setup.
// Merging is concatenative.
type SetupResult struct {
	BackgroundJobs []BackgroundJob
	AuxEndpoints   []AuxEndpoint
	BotCommands    []models.BotCommand
}

func (r *SetupResult) Merge(other SetupResult) {
	r.BackgroundJobs = append(r.BackgroundJobs, other.BackgroundJobs...)
	r.AuxEndpoints = append(r.AuxEndpoints, other.AuxEndpoints...)
	r.BotCommands = append(r.BotCommands, other.BotCommands...)
}

// SetupContext carries the dependencies blocks need at setup time.
type SetupContext struct {
	OwnerID string
	BotID   string

	Client      telegram.Client
	Router      *telegram.Router
	Backend     kv.Store
	Clock       clock.Clock
	Log         zerolog.Logger
	Media       media.Store
	FormResults *forms.Store

	flow *UserFlow
}

// BotPrefix scopes per-bot keys in shared stores.
func (s *SetupContext) BotPrefix() string { return s.OwnerID + "/" + s.BotID }

// Languages returns the language set declared by the flow's language
// select block; nil when the flow is monolingual.
func (s *SetupContext) Languages() []Language {
	if s.flow == nil || s.flow.languageBlock == nil {
		return nil
	}
	return s.flow.languageBlock.SupportedLanguages
}

func (s *SetupContext) defaultLanguage() Language {
	if s.flow == nil || s.flow.languageBlock == nil {
		return ""
	}
	return s.flow.languageBlock.DefaultLanguage
}

// Context is the per-update view passed through block enters.
type Context struct {
	Setup    *SetupContext
	Update   *models.Update
	User     *models.User
	ChatID   int64
	Language Language
}

// EnterBlock transitions the context's user into the given block.
func (c *Context) EnterBlock(ctx context.Context, id BlockID) error {
	return c.Setup.flow.EnterBlock(ctx, c, id)
}

// ErrUnknownBlock means a transition named a block id absent from the
// flow. Setup-time validation makes this a programmer bug.
var ErrUnknownBlock = errors.New("unknown block id")

// UserFlow is a validated, ready-to-setup flow graph.
type UserFlow struct {
	entrypoints   []EntryPoint
	blocks        []Block
	blockByID     map[BlockID]Block
	languageBlock *LanguageSelectBlock

	activeBlocks *typed.KeyValue[BlockID]
	languages    *typed.KeyValue[Language]
	banned       *BannedUsers

	// feedback is set when the flow has a human operator block; form
	// blocks reuse it for as-user exports.
	feedback *feedback.Handler
}

// NewUserFlow resolves the config's tagged unions and validates flow
// structure: unique ids, at most one catch-all, at most one language
// select block.
func NewUserFlow(cfg UserFlowConfig) (*UserFlow, error) {
	f := &UserFlow{blockByID: make(map[BlockID]Block)}
	seen := make(map[BlockID]struct{})
	catchAlls := 0
	for _, epc := range cfg.Entrypoints {
		ep, err := epc.concrete()
		if err != nil {
			return nil, invalidFlow("%s", err)
		}
		if _, dup := seen[ep.ID()]; dup {
			return nil, invalidFlow("duplicate id %q", ep.ID())
		}
		seen[ep.ID()] = struct{}{}
		if ep.IsCatchAll() {
			catchAlls++
		}
		f.entrypoints = append(f.entrypoints, ep)
	}
	for _, bc := range cfg.Blocks {
		b, err := bc.concrete()
		if err != nil {
			return nil, invalidFlow("%s", err)
		}
		if _, dup := seen[b.ID()]; dup {
			return nil, invalidFlow("duplicate id %q", b.ID())
		}
		seen[b.ID()] = struct{}{}
		if b.IsCatchAll() {
			catchAlls++
		}
		if lsb, ok := b.(*LanguageSelectBlock); ok {
			if f.languageBlock != nil {
				return nil, invalidFlow("more than one language select block")
			}
			f.languageBlock = lsb
		}
		f.blocks = append(f.blocks, b)
		f.blockByID[b.ID()] = b
	}
	if catchAlls > 1 {
		return nil, invalidFlow("more than one catch-all entrypoint or block")
	}
	return f, nil
}

// Setup validates cross-references and sets up entrypoints, then blocks,
// merging their results.
func (f *UserFlow) Setup(sctx *SetupContext) (SetupResult, error) {
	sctx.flow = f
	f.activeBlocks = typed.NewKeyValue[BlockID](typed.Options{
		Name:    "user-flow-active-block",
		Prefix:  storePrefix,
		TTL:     activeBlockTTL,
		Backend: sctx.Backend,
	})
	f.languages = typed.NewKeyValue[Language](typed.Options{
		Name:    "user-language",
		Prefix:  storePrefix,
		Backend: sctx.Backend,
	})
	f.banned = NewBannedUsers(sctx.OwnerID, sctx.BotID, sctx.Backend)

	for _, ep := range f.entrypoints {
		for _, next := range ep.PossibleNextBlockIDs() {
			if _, ok := f.blockByID[next]; !ok {
				return SetupResult{}, invalidFlow("entrypoint %q references unknown block %q", ep.ID(), next)
			}
		}
	}
	for _, b := range f.blocks {
		for _, next := range b.PossibleNextBlockIDs() {
			if _, ok := f.blockByID[next]; !ok {
				return SetupResult{}, invalidFlow("block %q references unknown block %q", b.ID(), next)
			}
		}
	}

	var result SetupResult
	for _, ep := range f.entrypoints {
		r, err := ep.Setup(sctx)
		if err != nil {
			return SetupResult{}, fmt.Errorf("setup entrypoint %q: %w", ep.ID(), err)
		}
		result.Merge(r)
	}
	for _, b := range f.blocks {
		r, err := b.Setup(sctx)
		if err != nil {
			return SetupResult{}, fmt.Errorf("setup block %q: %w", b.ID(), err)
		}
		result.Merge(r)
	}
	return result, nil
}

// EnterBlock performs the transition protocol: banned users are ignored,
// the active block is persisted, then the block's enter behavior runs.
func (f *UserFlow) EnterBlock(ctx context.Context, fctx *Context, id BlockID) error {
	if fctx.User != nil {
		banned, err := f.banned.IsBanned(ctx, fctx.User.ID)
		if err != nil {
			return err
		}
		if banned {
			return nil
		}
	}
	block, ok := f.blockByID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, id)
	}
	if fctx.User != nil {
		if err := f.activeBlocks.Save(ctx, f.userKey(fctx.Setup, fctx.User.ID), id); err != nil {
			return err
		}
	}
	return block.Enter(ctx, fctx)
}

// ActiveBlock returns the block the user last entered, if any and not
// expired.
func (f *UserFlow) ActiveBlock(ctx context.Context, sctx *SetupContext, userID int64) (BlockID, bool, error) {
	return f.activeBlocks.Load(ctx, f.userKey(sctx, userID))
}

func (f *UserFlow) userKey(sctx *SetupContext, userID int64) string {
	return sctx.BotPrefix() + "/" + strconv.FormatInt(userID, 10)
}

// newContext builds the per-update view for a message update, resolving
// the user's language when the flow is multilingual.
func (s *SetupContext) newContext(ctx context.Context, upd *models.Update) (*Context, error) {
	fctx := &Context{Setup: s, Update: upd}
	if upd.Message != nil {
		fctx.User = upd.Message.From
		fctx.ChatID = upd.Message.Chat.ID
	} else if upd.CallbackQuery != nil {
		fctx.User = &upd.CallbackQuery.From
		if upd.CallbackQuery.Message.Message != nil {
			fctx.ChatID = upd.CallbackQuery.Message.Message.Chat.ID
		}
	}
	if s.flow.languageBlock != nil && fctx.User != nil {
		lang, err := s.flow.userLanguage(ctx, s, fctx.User)
		if err != nil {
			return nil, err
		}
		fctx.Language = lang
	}
	return fctx, nil
}

// userLanguage resolves the stored language choice, falling back to the
// platform-reported locale when supported and to the flow default
// otherwise.
func (f *UserFlow) userLanguage(ctx context.Context, sctx *SetupContext, user *models.User) (Language, error) {
	key := f.userKey(sctx, user.ID)
	if lang, ok, err := f.languages.Load(ctx, key); err != nil {
		return "", err
	} else if ok {
		return lang, nil
	}
	for _, supported := range f.languageBlock.SupportedLanguages {
		if user.LanguageCode == supported {
			return supported, nil
		}
	}
	return f.languageBlock.DefaultLanguage, nil
}

// BannedUsers tracks per-bot banned user ids.
type BannedUsers struct {
	set *typed.Set[int64]
	key string
}

func NewBannedUsers(ownerID string, botID string, backend kv.Store) *BannedUsers {
	return &BannedUsers{
		set: typed.NewSet[int64](typed.Options{
			Name:    "banned-users",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		key: ownerID + "/" + botID,
	}
}

func (b *BannedUsers) Ban(ctx context.Context, userID int64) error {
	return b.set.Add(ctx, b.key, userID)
}

func (b *BannedUsers) Unban(ctx context.Context, userID int64) error {
	return b.set.Remove(ctx, b.key, userID)
}

func (b *BannedUsers) IsBanned(ctx context.Context, userID int64) (bool, error) {
	return b.set.Contains(ctx, b.key, userID)
}
