// Package runner multiplexes many running bots inside one process and
// reconciles the persisted "should be running" state on boot.
package runner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/construct"
	"github.com/botforge/botforge/internal/store"
)

// Runner supervises bot workers keyed by (owner, bot).
type Runner interface {
	// Start launches the bot; false means the pair was already running.
	Start(ctx context.Context, r *construct.BotRunner) (bool, error)
	// Stop cancels the bot's worker and awaits its termination; false
	// means the pair was not running.
	Stop(ownerID, botID string) bool
	// Cleanup cancels every worker without awaiting.
	Cleanup()
}

// PollingRunner runs one long-poll worker goroutine per bot.
type PollingRunner struct {
	log zerolog.Logger

	mu      sync.Mutex
	running map[string]*worker
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPollingRunner(log zerolog.Logger) *PollingRunner {
	return &PollingRunner{
		log:     log.With().Str("component", "polling_runner").Logger(),
		running: make(map[string]*worker),
	}
}

func (p *PollingRunner) Start(ctx context.Context, r *construct.BotRunner) (bool, error) {
	key := store.CompositeKey(r.OwnerID, r.BotID)
	p.mu.Lock()
	if _, exists := p.running[key]; exists {
		p.mu.Unlock()
		return false, nil
	}
	botCtx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	p.running[key] = w
	p.mu.Unlock()

	go func() {
		defer close(w.done)
		if err := r.Run(botCtx); err != nil && botCtx.Err() == nil {
			p.log.Error().Err(err).Str("bot", key).Msg("bot worker exited with error")
		}
		p.log.Info().Str("bot", key).Msg("bot worker stopped")
	}()
	p.log.Info().Str("bot", key).Msg("bot worker started")
	return true, nil
}

func (p *PollingRunner) Stop(ownerID, botID string) bool {
	key := store.CompositeKey(ownerID, botID)
	p.mu.Lock()
	w, exists := p.running[key]
	if exists {
		delete(p.running, key)
	}
	p.mu.Unlock()
	if !exists {
		return false
	}
	w.cancel()
	<-w.done
	return true
}

func (p *PollingRunner) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, w := range p.running {
		w.cancel()
		delete(p.running, key)
	}
}

var _ Runner = (*PollingRunner)(nil)

// WebhookHost accepts bot handlers from an embedded runner; the host owns
// the servers' lifecycle.
type WebhookHost interface {
	AddBot(key string, r *construct.BotRunner) error
	RemoveBot(key string)
}

// WebhookRunner delegates bot lifecycle to a host webhook server.
type WebhookRunner struct {
	host WebhookHost
	log  zerolog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

func NewWebhookRunner(host WebhookHost, log zerolog.Logger) *WebhookRunner {
	return &WebhookRunner{
		host:    host,
		log:     log.With().Str("component", "webhook_runner").Logger(),
		running: make(map[string]struct{}),
	}
}

func (w *WebhookRunner) Start(_ context.Context, r *construct.BotRunner) (bool, error) {
	key := store.CompositeKey(r.OwnerID, r.BotID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.running[key]; exists {
		return false, nil
	}
	if err := w.host.AddBot(key, r); err != nil {
		return false, err
	}
	w.running[key] = struct{}{}
	return true, nil
}

func (w *WebhookRunner) Stop(ownerID, botID string) bool {
	key := store.CompositeKey(ownerID, botID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.running[key]; !exists {
		return false
	}
	w.host.RemoveBot(key)
	delete(w.running, key)
	return true
}

func (w *WebhookRunner) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.running {
		w.host.RemoveBot(key)
		delete(w.running, key)
	}
}

var _ Runner = (*WebhookRunner)(nil)

// Reconcile starts every bot recorded in the running-version map. Entries
// whose config has disappeared are removed from the map as
// inconsistencies; construction failures are logged but the entry is
// kept so a later boot can retry.
func Reconcile(ctx context.Context, deps construct.Deps, run Runner, log zerolog.Logger) error {
	bots, err := deps.Store.ListRunningBots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		cfg, err := deps.Store.LoadBotConfig(ctx, b.OwnerID, b.BotID, b.Version)
		if err != nil {
			return err
		}
		if cfg == nil {
			log.Error().Str("owner_id", b.OwnerID).Str("bot_id", b.BotID).Stringer("version", b.Version).
				Msg("running-version entry has no stored config, removing")
			if _, err := deps.Store.SetBotNotRunning(ctx, b.OwnerID, b.BotID); err != nil {
				return err
			}
			continue
		}
		botRunner, err := construct.ConstructBot(ctx, deps, b.OwnerID, b.BotID, *cfg)
		if err != nil {
			log.Error().Err(err).Str("owner_id", b.OwnerID).Str("bot_id", b.BotID).
				Msg("failed to construct bot on boot")
			continue
		}
		if _, err := run.Start(ctx, botRunner); err != nil {
			log.Error().Err(err).Str("owner_id", b.OwnerID).Str("bot_id", b.BotID).
				Msg("failed to start bot on boot")
		}
	}
	return nil
}
