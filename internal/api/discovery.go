package api

import (
	"context"
	"net/http"

	"github.com/botforge/botforge/internal/construct"
	"github.com/botforge/botforge/internal/discovery"
	"github.com/botforge/botforge/internal/store"
	"github.com/botforge/botforge/internal/telegram"
)

// botClient builds a one-off API client for the bot's token, without
// starting a long-poll loop. Used for chat validation calls.
func (a *API) botClient(ctx context.Context, username, bot string) (telegram.Client, error) {
	cfg, err := a.deps.Store.LoadBotConfig(ctx, username, bot, store.LatestVersion())
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, notFoundf("bot %q does not exist", bot)
	}
	token, ok, err := a.deps.Secrets.GetSecret(ctx, username, cfg.TokenSecretName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, badRequestf("token secret %q is not found", cfg.TokenSecretName)
	}
	return a.deps.Factory(ctx, token, telegram.NewRouter(a.log))
}

func (a *API) handleAvailableGroupChats(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	ctx := r.Context()
	client, err := a.botClient(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	chats, err := a.deps.Discovery.ValidateDiscoveredChats(ctx, user.Username, bot, client)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if chats == nil {
		chats = []discovery.GroupChat{}
	}
	a.respondJSON(w, http.StatusOK, chats)
}

func (a *API) handleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	ctx := r.Context()
	exists, err := a.deps.Store.IsBotExists(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !exists {
		a.respondError(w, notFoundf("bot %q does not exist", bot))
		return
	}
	if err := a.deps.Discovery.StartDiscovery(ctx, user.Username, bot); err != nil {
		a.respondError(w, err)
		return
	}
	running, err := a.deps.Store.IsBotRunning(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if running {
		a.respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot})
		return
	}
	// not running: spin up a stub bot so chat discovery handlers are live
	cfg, err := a.deps.Store.LoadBotConfig(ctx, user.Username, bot, store.LatestVersion())
	if err != nil {
		a.respondError(w, err)
		return
	}
	if cfg == nil {
		a.respondError(w, notFoundf("bot %q does not exist", bot))
		return
	}
	stub := cfg.Stub()
	botRunner, err := construct.ConstructBot(ctx, a.deps, user.Username, bot, stub)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if _, err := a.runner.Start(ctx, botRunner); err != nil {
		a.respondError(w, err)
		return
	}
	if err := a.deps.Store.SetBotRunningVersion(ctx, user.Username, bot, store.StubVersion()); err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusCreated, map[string]any{"bot_id": bot})
}

func (a *API) handleStopDiscovery(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	ctx := r.Context()
	if err := a.deps.Discovery.StopDiscovery(ctx, user.Username, bot); err != nil {
		a.respondError(w, err)
		return
	}
	// tear down the stub bot if discovery was the only reason it ran
	version, running, err := a.deps.Store.GetBotRunningVersion(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if running && version.IsStub() {
		a.runner.Stop(user.Username, bot)
		a.unregisterAux(user.Username, bot)
		if _, err := a.deps.Store.SetBotNotRunning(ctx, user.Username, bot); err != nil {
			a.respondError(w, err)
			return
		}
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot})
}
