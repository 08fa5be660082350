// Package discovery implements group-chat discovery mode: while enabled
// for a bot, group chats the bot is added to (or explicitly tagged in)
// are recorded so the owner can pick one as an admin or export chat.
package discovery

import (
	"context"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/filecache"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/telegram"
)

const (
	storePrefix = "telebot-constructor-group-chat-discovery"

	discoveryModeTTL = 10 * 24 * time.Hour

	// migrationHandlerPriority puts the supergroup-migration watcher ahead
	// of all flow handlers; it declines everything else.
	migrationHandlerPriority = 200
)

// GroupChat is the owner-facing projection of a discovered chat.
type GroupChat struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Username    *string `json:"username"`
	IsForum     bool    `json:"is_forum"`
	Photo       *string `json:"photo"`
}

// Handler encapsulates discovery state for all bots.
type Handler struct {
	discovering *typed.Flag
	chatIDs     *typed.Set[int64]
	files       *filecache.Cache
	log         zerolog.Logger
}

func NewHandler(backend kv.Store, files *filecache.Cache, log zerolog.Logger) *Handler {
	return &Handler{
		discovering: typed.NewFlag(typed.Options{
			Name:    "bot-in-discovery-mode",
			Prefix:  storePrefix,
			TTL:     discoveryModeTTL,
			Backend: backend,
		}),
		chatIDs: typed.NewSet[int64](typed.Options{
			Name:    "available-group-chat-ids",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		files: files,
		log:   log.With().Str("component", "group_chat_discovery").Logger(),
	}
}

func (h *Handler) key(ownerID, botID string) string { return ownerID + "-" + botID }

func (h *Handler) StartDiscovery(ctx context.Context, ownerID, botID string) error {
	return h.discovering.SetFlag(ctx, h.key(ownerID, botID))
}

func (h *Handler) StopDiscovery(ctx context.Context, ownerID, botID string) error {
	return h.discovering.UnsetFlag(ctx, h.key(ownerID, botID))
}

func (h *Handler) IsDiscovering(ctx context.Context, ownerID, botID string) (bool, error) {
	return h.discovering.IsSet(ctx, h.key(ownerID, botID))
}

func (h *Handler) saveChat(ctx context.Context, ownerID, botID string, chatID int64) error {
	return h.chatIDs.Add(ctx, h.key(ownerID, botID), chatID)
}

func (h *Handler) removeChat(ctx context.Context, ownerID, botID string, chatID int64) error {
	return h.chatIDs.Remove(ctx, h.key(ownerID, botID), chatID)
}

// ValidateDiscoveredChats re-checks every recorded chat against the
// platform, dropping the ones the bot can no longer see, and returns the
// valid ones with a small cached photo when available.
func (h *Handler) ValidateDiscoveredChats(ctx context.Context, ownerID, botID string, client telegram.Client) ([]GroupChat, error) {
	key := h.key(ownerID, botID)
	chatIDs, err := h.chatIDs.All(ctx, key)
	if err != nil {
		return nil, err
	}
	chats := make([]GroupChat, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		chatID := chatID
		chat, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.ChatFullInfo, error) {
			return client.GetChat(ctx, &bot.GetChatParams{ChatID: strconv.FormatInt(chatID, 10)})
		})
		if err != nil {
			h.log.Info().Err(err).Int64("chat_id", chatID).Msg("chat no longer available, removing")
			if err := h.removeChat(ctx, ownerID, botID, chatID); err != nil {
				return nil, err
			}
			continue
		}
		gc := GroupChat{
			ID:      chat.ID,
			Type:    string(chat.Type),
			Title:   chat.Title,
			IsForum: chat.IsForum,
		}
		if chat.Description != "" {
			desc := chat.Description
			gc.Description = &desc
		}
		if chat.Username != "" {
			username := chat.Username
			gc.Username = &username
		}
		if chat.Photo != nil && h.files != nil {
			if photo, err := h.files.Get(ctx, client, chat.Photo.SmallFileID); err == nil && photo != "" {
				gc.Photo = &photo
			}
		}
		chats = append(chats, gc)
	}
	return chats, nil
}

// SetupHandlers registers discovery hooks on a bot's router: membership
// updates, /discover_chat and /undiscover_chat commands and a
// supergroup-migration watcher.
func (h *Handler) SetupHandlers(ownerID, botID string, router *telegram.Router) {
	router.HandleMyChatMember("group-chat-discovery", func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
		cmu := upd.MyChatMember
		if cmu.Chat.Type != models.ChatTypePrivate && isMemberStatus(cmu.NewChatMember) {
			discovering, err := h.IsDiscovering(ctx, ownerID, botID)
			if err != nil {
				return err
			}
			if discovering {
				h.log.Info().Int64("chat_id", cmu.Chat.ID).Msg("discovered chat from being added")
				return h.saveChat(ctx, ownerID, botID, cmu.Chat.ID)
			}
		}
		if isGoneStatus(cmu.NewChatMember) {
			h.log.Info().Int64("chat_id", cmu.Chat.ID).Msg("undiscovered chat from being removed")
			return h.removeChat(ctx, ownerID, botID, cmu.Chat.ID)
		}
		return nil
	})

	router.HandleCommand("discover_chat", telegram.ChatScopeGroup, func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
		discovering, err := h.IsDiscovering(ctx, ownerID, botID)
		if err != nil {
			return err
		}
		if !discovering {
			return nil
		}
		h.log.Info().Int64("chat_id", upd.Message.Chat.ID).Msg("discovered chat from explicit command")
		return h.saveChat(ctx, ownerID, botID, upd.Message.Chat.ID)
	})

	router.HandleCommand("undiscover_chat", telegram.ChatScopeGroup, func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
		h.log.Info().Int64("chat_id", upd.Message.Chat.ID).Msg("undiscovered chat from explicit command")
		return h.removeChat(ctx, ownerID, botID, upd.Message.Chat.ID)
	})

	router.Handle("group-chat-migration", migrationHandlerPriority,
		func(u *models.Update) bool {
			return u.Message != nil && (u.Message.MigrateFromChatID != 0 || u.Message.MigrateToChatID != 0)
		},
		func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
			msg := upd.Message
			if msg.MigrateFromChatID != 0 {
				if err := h.removeChat(ctx, ownerID, botID, msg.MigrateFromChatID); err != nil {
					return err
				}
			}
			if msg.MigrateToChatID != 0 {
				if err := h.removeChat(ctx, ownerID, botID, msg.Chat.ID); err != nil {
					return err
				}
			}
			return nil
		})
}

func isMemberStatus(m models.ChatMember) bool {
	switch m.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator,
		models.ChatMemberTypeMember, models.ChatMemberTypeRestricted:
		return true
	default:
		return false
	}
}

func isGoneStatus(m models.ChatMember) bool {
	switch m.Type {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
		return true
	default:
		return false
	}
}
