package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// ChatScope restricts a command handler to a kind of chat.
type ChatScope string

const (
	ChatScopePrivate ChatScope = "private"
	ChatScopeGroup   ChatScope = "group"
	ChatScopeAny     ChatScope = "any"
)

func (s ChatScope) matches(chatType models.ChatType) bool {
	switch s {
	case ChatScopePrivate:
		return chatType == models.ChatTypePrivate
	case ChatScopeGroup:
		return chatType == models.ChatTypeGroup || chatType == models.ChatTypeSupergroup
	default:
		return true
	}
}

// HandlerFunc processes one matched update. Returned errors are logged on
// the bot's logger and recorded by the metrics hook; they are never
// surfaced to the Telegram user.
type HandlerFunc func(ctx context.Context, client Client, update *models.Update) error

// MetricsHandler receives a fingerprint of every dispatched update.
type MetricsHandler func(ctx context.Context, metrics UpdateMetrics)

// ErrSkipHandler lets a handler decline an update after a stateful check
// its match predicate could not perform; dispatch continues down the
// handler chain as if the handler never matched.
var ErrSkipHandler = errors.New("handler skipped update")

type registration struct {
	name     string
	priority int
	seq      int
	match    func(update *models.Update) bool
	handle   HandlerFunc
}

// CatchAllPriority sorts a handler after every explicitly prioritized one.
const CatchAllPriority = -1000

// Router dispatches incoming updates to handlers registered by the bot's
// flow blocks. The first matching handler (highest priority, then
// registration order) wins; at most one handler runs per update.
type Router struct {
	handlers []registration
	metrics  MetricsHandler
	log      zerolog.Logger
	sorted   bool
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{log: log}
}

// SetMetricsHandler attaches the per-update metrics hook.
func (r *Router) SetMetricsHandler(h MetricsHandler) {
	r.metrics = h
}

// Handle registers a predicate handler. Name is used in logs and metrics.
func (r *Router) Handle(name string, priority int, match func(update *models.Update) bool, handle HandlerFunc) {
	r.handlers = append(r.handlers, registration{
		name:     name,
		priority: priority,
		seq:      len(r.handlers),
		match:    match,
		handle:   handle,
	})
	r.sorted = false
}

// HandleCommand registers a handler for "/command" messages in chats
// matching the scope.
func (r *Router) HandleCommand(command string, scope ChatScope, handle HandlerFunc) {
	r.Handle("command:"+command, 0, func(u *models.Update) bool {
		msg := u.Message
		if msg == nil || msg.From == nil || !scope.matches(msg.Chat.Type) {
			return false
		}
		return messageCommand(msg.Text) == command
	}, handle)
}

// HandleRegex registers a case-insensitive regex handler over message text.
func (r *Router) HandleRegex(re *regexp.Regexp, handle HandlerFunc) {
	r.Handle("regex:"+re.String(), 0, func(u *models.Update) bool {
		return u.Message != nil && u.Message.From != nil && re.MatchString(u.Message.Text)
	}, handle)
}

// HandleCallback registers a handler for callback queries whose data starts
// with the given prefix.
func (r *Router) HandleCallback(prefix string, handle HandlerFunc) {
	r.Handle("callback:"+prefix, 0, func(u *models.Update) bool {
		return u.CallbackQuery != nil && strings.HasPrefix(u.CallbackQuery.Data, prefix)
	}, handle)
}

// HandleMyChatMember registers a handler for bot membership updates.
func (r *Router) HandleMyChatMember(name string, handle HandlerFunc) {
	r.Handle(name, 0, func(u *models.Update) bool {
		return u.MyChatMember != nil
	}, handle)
}

// HandleCatchAll registers a lowest-priority handler for any message.
func (r *Router) HandleCatchAll(name string, handle HandlerFunc) {
	r.Handle(name, CatchAllPriority, func(u *models.Update) bool {
		return u.Message != nil && u.Message.From != nil
	}, handle)
}

// Dispatch routes one update. Handler errors and timings are reported to
// the metrics hook.
func (r *Router) Dispatch(ctx context.Context, client Client, update *models.Update) {
	if !r.sorted {
		sort.SliceStable(r.handlers, func(i, j int) bool {
			if r.handlers[i].priority != r.handlers[j].priority {
				return r.handlers[i].priority > r.handlers[j].priority
			}
			return r.handlers[i].seq < r.handlers[j].seq
		})
		r.sorted = true
	}
	for _, reg := range r.handlers {
		if !reg.match(update) {
			continue
		}
		started := time.Now()
		err := reg.handle(ctx, client, update)
		if errors.Is(err, ErrSkipHandler) {
			continue
		}
		metrics := UpdateMetrics{
			UpdateID:    update.ID,
			HandlerName: reg.name,
			Duration:    time.Since(started),
		}
		if err != nil {
			metrics.Exception = &ExceptionInfo{
				TypeName: "RuntimeError",
				Body:     err.Error(),
			}
			r.log.Error().Err(err).Str("handler", reg.name).Int64("update_id", update.ID).
				Msg("update handler failed")
		}
		if r.metrics != nil {
			r.metrics(ctx, metrics)
		}
		return
	}
}

// messageCommand extracts the leading "/command" from a message text,
// stripping the optional @botname suffix; empty when the message is not a
// command.
func messageCommand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd
}

// UpdateMetrics is the per-update fingerprint emitted after dispatch.
type UpdateMetrics struct {
	UpdateID    int64          `json:"update_id"`
	HandlerName string         `json:"handler_name"`
	Duration    time.Duration  `json:"duration"`
	Exception   *ExceptionInfo `json:"exception_info,omitempty"`
}

// ExceptionInfo summarizes a handler failure.
type ExceptionInfo struct {
	TypeName string `json:"type_name"`
	Body     string `json:"body"`
}

func (e *ExceptionInfo) String() string {
	return fmt.Sprintf("%s: %s", e.TypeName, e.Body)
}
