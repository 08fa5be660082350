// Package errlog persists per-bot runtime errors so that bot owners can
// inspect failures of their hosted bots through the API.
package errlog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/telegram"
)

const storePrefix = "telebot-constructor/errors"

// BotError is one recorded bot runtime failure.
type BotError struct {
	Timestamp    float64 `json:"timestamp"`
	Message      string  `json:"message"`
	ExcType      *string `json:"exc_type,omitempty"`
	ExcData      *string `json:"exc_data,omitempty"`
	ExcTraceback *string `json:"exc_traceback,omitempty"`
}

// ErrorContext is passed to the optional alert callback.
type ErrorContext struct {
	OwnerID     string
	BotID       string
	AlertChatID string
	Error       BotError
}

// ErrorCallback delivers an error to an owner-configured alert channel.
type ErrorCallback func(ctx context.Context, errCtx ErrorContext)

// Store keeps a list of BotError per (owner, bot) plus an optional alert
// chat id.
type Store struct {
	errors     *typed.List[BotError]
	alertChats *typed.KeyValue[string]
	clock      clock.Clock
	callback   ErrorCallback
	log        zerolog.Logger

	// pending tracks fire-and-forget appends from the log hook so that
	// shutdown and tests can await them.
	pending sync.WaitGroup
}

func NewStore(backend kv.Store, c clock.Clock) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{
		errors: typed.NewList[BotError](typed.Options{
			Name:    "errors",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		alertChats: typed.NewKeyValue[string](typed.Options{
			Name:    "alert-chat",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		clock: c,
		log:   zerolog.Nop(),
	}
}

// WithLogger sets the logger used to report failed error appends.
func (s *Store) WithLogger(log zerolog.Logger) *Store {
	s.log = log.With().Str("component", "errlog").Logger()
	return s
}

// SetErrorCallback attaches the alert delivery hook. Must be called before
// any bot starts.
func (s *Store) SetErrorCallback(cb ErrorCallback) {
	s.callback = cb
}

func compositeKey(ownerID, botID string) string {
	return ownerID + "/" + botID
}

// ProcessError appends the error and fires the alert callback when an
// alert chat is configured.
func (s *Store) ProcessError(ctx context.Context, ownerID, botID string, botErr BotError) error {
	key := compositeKey(ownerID, botID)
	if _, err := s.errors.Push(ctx, key, botErr); err != nil {
		return err
	}
	if s.callback != nil {
		if alertChatID, ok, err := s.alertChats.Load(ctx, key); err == nil && ok {
			s.callback(ctx, ErrorContext{
				OwnerID:     ownerID,
				BotID:       botID,
				AlertChatID: alertChatID,
				Error:       botErr,
			})
		}
	}
	return nil
}

// LoadErrors returns a newest-first page: offset 0 selects the count most
// recent errors, offset N the count errors preceding position N from the
// end. A zero count yields an empty page.
func (s *Store) LoadErrors(ctx context.Context, ownerID, botID string, offset, count int) ([]BotError, error) {
	page, err := s.errors.PageFromEnd(ctx, compositeKey(ownerID, botID), offset, count)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (s *Store) SaveAlertChatID(ctx context.Context, ownerID, botID, chatID string) error {
	return s.alertChats.Save(ctx, compositeKey(ownerID, botID), chatID)
}

func (s *Store) LoadAlertChatID(ctx context.Context, ownerID, botID string) (string, bool, error) {
	return s.alertChats.Load(ctx, compositeKey(ownerID, botID))
}

func (s *Store) RemoveAlertChatID(ctx context.Context, ownerID, botID string) (bool, error) {
	return s.alertChats.Drop(ctx, compositeKey(ownerID, botID))
}

// Wait blocks until all asynchronous appends have completed.
func (s *Store) Wait() {
	s.pending.Wait()
}

// BotAdapter scopes the store to one bot for use inside its worker.
type BotAdapter struct {
	store   *Store
	ownerID string
	botID   string
}

func (s *Store) AdapterFor(ownerID, botID string) *BotAdapter {
	return &BotAdapter{store: s, ownerID: ownerID, botID: botID}
}

// Hook returns a zerolog hook converting every error-level record on the
// bot's logger into a stored BotError. Appends are fire-and-forget but
// tracked, so nothing is orphaned at shutdown.
func (a *BotAdapter) Hook() zerolog.Hook {
	return logHook{adapter: a}
}

// MetricsHandler returns the update-metrics hook for the bot's router:
// every update whose processing failed is recorded with its exception
// summary.
func (a *BotAdapter) MetricsHandler() telegram.MetricsHandler {
	return func(ctx context.Context, metrics telegram.UpdateMetrics) {
		if metrics.Exception == nil {
			return
		}
		excType := metrics.Exception.TypeName
		excData := metrics.Exception.Body
		a.Record(ctx, BotError{
			Timestamp:    float64(a.store.clock.Now().UnixNano()) / float64(time.Second),
			Message:      "error processing update in handler " + metrics.HandlerName,
			ExcType:      &excType,
			ExcData:      &excData,
		})
	}
}

// Record appends one error synchronously.
func (a *BotAdapter) Record(ctx context.Context, botErr BotError) {
	if err := a.store.ProcessError(ctx, a.ownerID, a.botID, botErr); err != nil {
		a.store.log.Error().Err(err).Str("owner_id", a.ownerID).Str("bot_id", a.botID).
			Msg("failed to record bot error")
	}
}

type logHook struct {
	adapter *BotAdapter
}

func (h logHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.ErrorLevel {
		return
	}
	a := h.adapter
	botErr := BotError{
		Timestamp: float64(a.store.clock.Now().UnixNano()) / float64(time.Second),
		Message:   message,
	}
	a.store.pending.Add(1)
	go func() {
		defer a.store.pending.Done()
		if err := a.store.ProcessError(context.Background(), a.ownerID, a.botID, botErr); err != nil {
			a.store.log.Error().Err(err).Str("owner_id", a.ownerID).Str("bot_id", a.botID).
				Msg("failed to record bot error")
		}
	}()
}
