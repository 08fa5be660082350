// Package feedback forwards end-user messages to a fixed admin chat and
// routes admin replies back, with hashtag tagging, anti-spam throttling
// and an optional anonymized mode.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/telegram"
)

const (
	storePrefix = "telebot-constructor/feedback"

	// hashtagRarerThan spaces out hashtag header messages in the admin chat.
	hashtagRarerThan = 5 * time.Minute

	throttleWindow     = 5 * time.Minute
	softBanViolations  = 10
	softBanDuration    = 24 * time.Hour
	logDumpLimit       = 20
	defaultPerMinute   = 10
	forwardedMapTTL    = 30 * 24 * time.Hour

	maintenanceInterval = time.Hour
)

// Config is the owner-facing feedback setup carried by a flow block.
type Config struct {
	AdminChatID          int64    `json:"admin_chat_id"`
	Hashtags             []string `json:"hashtags,omitempty"`
	MaxMessagesPerMinute float64  `json:"max_messages_per_minute,omitempty"`
	FullAnonymization    bool     `json:"full_anonymization,omitempty"`
}

type logEntry struct {
	Timestamp float64 `json:"timestamp"`
	User      string  `json:"user"`
	Text      string  `json:"text"`
}

// Handler owns one bot's feedback channel to its admin chat.
type Handler struct {
	cfg    Config
	prefix string
	clk    clock.Clock
	log    zerolog.Logger

	// forwarded maps an admin-chat message id back to the originating
	// user chat so admin replies can be routed.
	forwarded  *typed.KeyValue[int64]
	messageLog *typed.List[logEntry]

	mu            sync.Mutex
	limiters      map[int64]*rate.Limiter
	violations    map[int64]violationState
	lastHashtagAt time.Time
}

type violationState struct {
	count       int
	windowStart time.Time
	bannedUntil time.Time
}

func NewHandler(cfg Config, botPrefix string, backend kv.Store, clk clock.Clock, log zerolog.Logger) *Handler {
	if cfg.MaxMessagesPerMinute <= 0 {
		cfg.MaxMessagesPerMinute = defaultPerMinute
	}
	return &Handler{
		cfg:    cfg,
		prefix: botPrefix,
		clk:    clk,
		log:    log.With().Str("component", "feedback").Logger(),
		forwarded: typed.NewKeyValue[int64](typed.Options{
			Name:    "forwarded-origin",
			Prefix:  storePrefix,
			TTL:     forwardedMapTTL,
			Backend: backend,
		}),
		messageLog: typed.NewList[logEntry](typed.Options{
			Name:    "message-log",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		limiters:   make(map[int64]*rate.Limiter),
		violations: make(map[int64]violationState),
	}
}

// AdminChatID exposes the configured admin chat.
func (h *Handler) AdminChatID() int64 { return h.cfg.AdminChatID }

// RunMaintenance periodically prunes expired throttle state so the
// per-user maps do not grow with every user the bot has ever seen.
func (h *Handler) RunMaintenance(ctx context.Context) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.pruneThrottleState()
		}
	}
}

func (h *Handler) pruneThrottleState() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clk.Now()
	for id, v := range h.violations {
		if now.After(v.bannedUntil) && now.Sub(v.windowStart) > throttleWindow {
			delete(h.violations, id)
			delete(h.limiters, id)
		}
	}
}

// LogPageHandler serves the recent message log as JSON. Exposed as an
// aux endpoint while the bot is running.
func (h *Handler) LogPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.messageLog.PageFromEnd(r.Context(), h.prefix, 0, logDumpLimit)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to load feedback message log")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []logEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			h.log.Error().Err(err).Msg("failed to write feedback log page")
		}
	}
}

// allowMessage applies the per-user throttle: a sustained rate beyond
// 5 x max_messages_per_minute within the window counts as a violation;
// repeated violations soft-ban the user for a day.
func (h *Handler) allowMessage(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clk.Now()

	v := h.violations[userID]
	if now.Before(v.bannedUntil) {
		return false
	}
	limiter, ok := h.limiters[userID]
	if !ok {
		perSecond := rate.Limit(h.cfg.MaxMessagesPerMinute / 60.0)
		burst := int(5 * h.cfg.MaxMessagesPerMinute)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(perSecond, burst)
		h.limiters[userID] = limiter
	}
	if limiter.Allow() {
		return true
	}
	if now.Sub(v.windowStart) > throttleWindow {
		v.count = 0
		v.windowStart = now
	}
	v.count++
	if v.count >= softBanViolations {
		v.bannedUntil = now.Add(softBanDuration)
		v.count = 0
		h.log.Info().Int64("user_id", userID).Msg("feedback soft ban applied")
	}
	h.violations[userID] = v
	return false
}

// HandleUserMessage forwards one end-user message into the admin chat.
func (h *Handler) HandleUserMessage(ctx context.Context, client telegram.Client, upd *models.Update) error {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	if !h.allowMessage(msg.From.ID) {
		return nil
	}
	if err := h.maybeSendHashtags(ctx, client); err != nil {
		h.log.Error().Err(err).Msg("failed to send hashtag header")
	}

	var adminMsgID int
	if h.cfg.FullAnonymization {
		sent, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
			return client.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: h.cfg.AdminChatID,
				Text:   msg.Text,
			})
		})
		if err != nil {
			return err
		}
		adminMsgID = sent.ID
	} else {
		copied, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.MessageID, error) {
			return client.CopyMessage(ctx, &bot.CopyMessageParams{
				ChatID:     h.cfg.AdminChatID,
				FromChatID: msg.Chat.ID,
				MessageID:  msg.ID,
			})
		})
		if err != nil {
			return err
		}
		adminMsgID = copied.ID
	}

	if err := h.forwarded.Save(ctx, h.forwardKey(adminMsgID), msg.Chat.ID); err != nil {
		return err
	}
	_, err := h.messageLog.Push(ctx, h.prefix, logEntry{
		Timestamp: unixSeconds(h.clk.Now()),
		User:      h.userLabel(msg.From),
		Text:      msg.Text,
	})
	return err
}

// EmulateUserMessage forwards text into the admin chat as if the user had
// sent it through the bot (used by flow blocks exporting results).
func (h *Handler) EmulateUserMessage(ctx context.Context, client telegram.Client, user *models.User, htmlText string) error {
	if err := h.maybeSendHashtags(ctx, client); err != nil {
		h.log.Error().Err(err).Msg("failed to send hashtag header")
	}
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    h.cfg.AdminChatID,
			Text:      htmlText,
			ParseMode: models.ParseModeHTML,
		})
	})
	if err != nil {
		return err
	}
	var label string
	if user != nil {
		label = h.userLabel(user)
	}
	_, err = h.messageLog.Push(ctx, h.prefix, logEntry{
		Timestamp: unixSeconds(h.clk.Now()),
		User:      label,
		Text:      htmlText,
	})
	return err
}

// HandleAdminMessage serves the admin chat: "/log" dumps recent traffic,
// a reply to a forwarded message is routed back to its author.
func (h *Handler) HandleAdminMessage(ctx context.Context, client telegram.Client, upd *models.Update) error {
	msg := upd.Message
	if msg == nil || msg.Chat.ID != h.cfg.AdminChatID {
		return telegram.ErrSkipHandler
	}
	if strings.TrimSpace(msg.Text) == "/log" {
		return h.dumpLog(ctx, client)
	}
	if msg.ReplyToMessage != nil {
		origin, ok, err := h.forwarded.Load(ctx, h.forwardKey(msg.ReplyToMessage.ID))
		if err != nil {
			return err
		}
		if ok {
			_, err = telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
				return client.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: origin,
					Text:   msg.Text,
				})
			})
			return err
		}
	}
	return nil
}

func (h *Handler) dumpLog(ctx context.Context, client telegram.Client) error {
	entries, err := h.messageLog.PageFromEnd(ctx, h.prefix, 0, logDumpLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return h.sendToAdmin(ctx, client, "No messages logged yet.")
	}
	var sb strings.Builder
	for _, e := range entries {
		ts := time.Unix(int64(e.Timestamp), 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(&sb, "[%s] %s: %s\n", ts, e.User, e.Text)
	}
	return h.sendToAdmin(ctx, client, sb.String())
}

func (h *Handler) maybeSendHashtags(ctx context.Context, client telegram.Client) error {
	if len(h.cfg.Hashtags) == 0 {
		return nil
	}
	h.mu.Lock()
	now := h.clk.Now()
	if now.Sub(h.lastHashtagAt) < hashtagRarerThan {
		h.mu.Unlock()
		return nil
	}
	h.lastHashtagAt = now
	h.mu.Unlock()

	tags := make([]string, 0, len(h.cfg.Hashtags))
	for _, t := range h.cfg.Hashtags {
		tags = append(tags, "#"+strings.TrimPrefix(t, "#"))
	}
	return h.sendToAdmin(ctx, client, strings.Join(tags, " "))
}

func (h *Handler) sendToAdmin(ctx context.Context, client telegram.Client, text string) error {
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: h.cfg.AdminChatID,
			Text:   text,
		})
	})
	return err
}

func (h *Handler) forwardKey(adminMsgID int) string {
	return h.prefix + "/" + strconv.Itoa(adminMsgID)
}

func (h *Handler) userLabel(user *models.User) string {
	if h.cfg.FullAnonymization {
		return "anonymous"
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if user.Username != "" {
		name += " (@" + user.Username + ")"
	}
	return html.EscapeString(name)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
