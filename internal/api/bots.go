package api

import (
	"net/http"
	"strconv"

	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/store"
)

func (a *API) handleLoggedInUser(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	a.respondJSON(w, http.StatusOK, user)
}

type saveConfigRequest struct {
	Config         flow.BotConfig `json:"config"`
	Start          bool           `json:"start"`
	VersionMessage *string        `json:"version_message"`
	DisplayName    *string        `json:"display_name"`
}

type savedConfigResponse struct {
	BotID   string `json:"bot_id"`
	Version int    `json:"version"`
}

func (a *API) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	var req saveConfigRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	if req.Config.TokenSecretName == "" {
		a.respondError(w, badRequestf("config is missing token_secret_name"))
		return
	}
	if req.Config.UserFlowConfig != nil {
		if _, err := flow.NewUserFlow(*req.Config.UserFlowConfig); err != nil {
			a.respondError(w, err)
			return
		}
	}
	ctx := r.Context()
	existing, err := a.deps.Store.BotConfigVersionCount(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	version, err := a.deps.Store.SaveBotConfig(ctx, user.Username, bot, req.Config, store.BotConfigVersionMetadata{
		Message:        req.VersionMessage,
		AuthorUsername: &user.Username,
	})
	if err != nil {
		a.respondError(w, err)
		return
	}
	displayName := req.DisplayName
	if displayName == nil {
		displayName = req.Config.DisplayName
	}
	if displayName != nil {
		if err := a.deps.Store.SaveBotDisplayName(ctx, user.Username, bot, *displayName); err != nil {
			a.respondError(w, err)
			return
		}
	}
	newVersion := version
	if _, err := a.deps.Store.SaveEvent(ctx, user.Username, bot, store.BotEvent{
		Event:      store.BotEdited,
		Username:   user.Username,
		NewVersion: &newVersion,
	}); err != nil {
		a.respondError(w, err)
		return
	}
	if req.Start {
		if _, err := a.stopBot(ctx, user.Username, bot); err != nil {
			a.respondError(w, err)
			return
		}
		if _, err := a.startBot(ctx, user.Username, bot, store.NumericVersion(version)); err != nil {
			a.respondError(w, err)
			return
		}
	}
	status := http.StatusOK
	if existing == 0 {
		status = http.StatusCreated
	}
	a.respondJSON(w, status, savedConfigResponse{BotID: bot, Version: version})
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	version := store.LatestVersion()
	if raw := r.URL.Query().Get("version"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.respondError(w, badRequestf("version must be an integer, got %q", raw))
			return
		}
		version = store.NumericVersion(n)
	}
	cfg, err := a.deps.Store.LoadBotConfig(r.Context(), user.Username, bot, version)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if cfg == nil {
		a.respondError(w, notFoundf("bot %q has no config at version %s", bot, version))
		return
	}
	a.respondJSON(w, http.StatusOK, cfg)
}

func (a *API) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
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
	if _, err := a.stopBot(ctx, user.Username, bot); err != nil {
		a.respondError(w, err)
		return
	}
	removed, err := a.deps.Store.RemoveBotConfig(ctx, user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !removed {
		a.respondError(w, notFoundf("bot %q does not exist", bot))
		return
	}
	if _, err := a.deps.Store.SaveEvent(ctx, user.Username, bot, store.BotEvent{
		Event:    store.BotDeleted,
		Username: user.Username,
	}); err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot})
}

type startBotRequest struct {
	Version *int `json:"version"`
}

func (a *API) handleStartBot(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	var req startBotRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	version := store.LatestVersion()
	if req.Version != nil {
		version = store.NumericVersion(*req.Version)
	}
	started, err := a.startBot(r.Context(), user.Username, bot, version)
	if err != nil {
		a.respondError(w, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusCreated
	}
	a.respondJSON(w, status, map[string]any{"bot_id": bot, "started": started})
}

func (a *API) handleStopBot(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	stopped, err := a.stopBot(r.Context(), user.Username, bot)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot, "stopped": stopped})
}

func (a *API) handleListBotInfos(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	botIDs, err := a.deps.Store.ListBotIDs(ctx, user.Username)
	if err != nil {
		a.respondError(w, err)
		return
	}
	infos := make(map[string]*store.BotInfo, len(botIDs))
	for _, id := range botIDs {
		info, err := a.deps.Store.LoadBotInfo(ctx, user.Username, id, false)
		if err != nil {
			a.respondError(w, err)
			return
		}
		if info != nil {
			infos[id] = info
		}
	}
	a.respondJSON(w, http.StatusOK, infos)
}

func (a *API) handleGetBotInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	info, err := a.deps.Store.LoadBotInfo(r.Context(), user.Username, bot, true)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if info == nil {
		a.respondError(w, notFoundf("bot %q does not exist", bot))
		return
	}
	a.respondJSON(w, http.StatusOK, info)
}

type setDisplayNameRequest struct {
	DisplayName string `json:"display_name"`
}

func (a *API) handleSetDisplayName(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	var req setDisplayNameRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	if req.DisplayName == "" {
		a.respondError(w, badRequestf("display name must not be empty"))
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
	if err := a.deps.Store.SaveBotDisplayName(ctx, user.Username, bot, req.DisplayName); err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot})
}
