package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/construct"
	"github.com/botforge/botforge/internal/runner"
	"github.com/botforge/botforge/internal/store"
)

// FilenameHeader carries the original filename on media uploads.
const FilenameHeader = "X-Telebot-Constructor-Filename"

var allowedOrigins = []string{
	"http://localhost:8081",
	"http://127.0.0.1:8081",
}

var botIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{5,16}$`)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errNotFound}, args...)...)
}

func badRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}

// API is the studio-facing HTTP surface: bot configuration, lifecycle,
// form results, media and secrets. All data access is scoped to the
// authenticated user's id.
type API struct {
	deps   construct.Deps
	runner runner.Runner
	auth   Authenticator
	log    zerolog.Logger

	auxMu    sync.RWMutex
	aux      map[string]http.HandlerFunc
	auxByBot map[string][]string
}

func New(deps construct.Deps, run runner.Runner, auth Authenticator, log zerolog.Logger) *API {
	return &API{
		deps:     deps,
		runner:   run,
		auth:     auth,
		log:      log.With().Str("component", "api").Logger(),
		aux:      make(map[string]http.HandlerFunc),
		auxByBot: make(map[string][]string),
	}
}

// Handler builds the full route table.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/logged-in-user", a.handleLoggedInUser).Methods(http.MethodGet)

	r.HandleFunc("/api/secrets/{name}", a.handleSaveSecret).Methods(http.MethodPost)
	r.HandleFunc("/api/secrets/{name}", a.handleDeleteSecret).Methods(http.MethodDelete)
	r.HandleFunc("/api/secrets", a.handleListSecrets).Methods(http.MethodGet)

	r.HandleFunc("/api/config/{botID}", a.handleSaveConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/config/{botID}", a.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config/{botID}", a.handleDeleteConfig).Methods(http.MethodDelete)

	r.HandleFunc("/api/start/{botID}", a.handleStartBot).Methods(http.MethodPost)
	r.HandleFunc("/api/stop/{botID}", a.handleStopBot).Methods(http.MethodPost)

	r.HandleFunc("/api/info", a.handleListBotInfos).Methods(http.MethodGet)
	r.HandleFunc("/api/info/{botID}", a.handleGetBotInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/display-name/{botID}", a.handleSetDisplayName).Methods(http.MethodPut)

	r.HandleFunc("/api/forms/{botID}/{formBlockID}/responses", a.handleFormResponses).Methods(http.MethodGet)
	r.HandleFunc("/api/forms/{botID}/{formBlockID}/export", a.handleFormExport).Methods(http.MethodGet)
	r.HandleFunc("/api/forms/{botID}/{formBlockID}/title", a.handleSetFormTitle).Methods(http.MethodPut)

	r.HandleFunc("/api/errors/{botID}", a.handleBotErrors).Methods(http.MethodGet)

	r.HandleFunc("/api/media", a.handleSaveMedia).Methods(http.MethodPost)
	r.HandleFunc("/api/media/{mediaID}", a.handleGetMedia).Methods(http.MethodGet)
	r.HandleFunc("/api/media/{mediaID}", a.handleDeleteMedia).Methods(http.MethodDelete)

	r.HandleFunc("/api/available-group-chats/{botID}", a.handleAvailableGroupChats).Methods(http.MethodGet)
	r.HandleFunc("/api/start-group-chat-discovery/{botID}", a.handleStartDiscovery).Methods(http.MethodPost)
	r.HandleFunc("/api/stop-group-chat-discovery/{botID}", a.handleStopDiscovery).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(a.dispatchAux)
	r.MethodNotAllowedHandler = http.HandlerFunc(a.dispatchAux)

	return corsMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+FilenameHeader)
				h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				h.Set("Access-Control-Max-Age", "300")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the requesting user or writes a 401 and reports
// false.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (*LoggedInUser, bool) {
	user, err := a.auth.Authenticate(r.Context(), r)
	if err != nil {
		a.respondError(w, fmt.Errorf("%w: %w", ErrUnauthenticated, err))
		return nil, false
	}
	return user, true
}

// botID extracts and validates the bot id path variable.
func botID(r *http.Request) (string, error) {
	id := mux.Vars(r)["botID"]
	if !botIDRegex.MatchString(id) {
		return "", badRequestf("invalid bot id %q", id)
	}
	return id, nil
}

func (a *API) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("failed to write response body")
	}
}

func (a *API) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, errNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errBadRequest), construct.IsUserError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.log.Error().Err(err).Msg("internal error serving request")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func decodeJSONBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestf("malformed JSON body: %v", err)
	}
	return nil
}

// resolveVersion turns a possibly negative version into a concrete one.
func (a *API) resolveVersion(ctx context.Context, ownerID, bot string, version store.BotVersion) (store.BotVersion, error) {
	if version.IsStub() || version.Int() >= 0 {
		return version, nil
	}
	count, err := a.deps.Store.BotConfigVersionCount(ctx, ownerID, bot)
	if err != nil {
		return version, err
	}
	if count == 0 {
		return version, notFoundf("bot %q has no saved config", bot)
	}
	return store.NumericVersion(count + version.Int()), nil
}

// startBot constructs the bot at the given version and hands it to the
// runner. False means the bot was already running and nothing changed.
func (a *API) startBot(ctx context.Context, username, bot string, version store.BotVersion) (bool, error) {
	version, err := a.resolveVersion(ctx, username, bot, version)
	if err != nil {
		return false, err
	}
	cfg, err := a.deps.Store.LoadBotConfig(ctx, username, bot, version)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		return false, notFoundf("bot %q has no config at version %s", bot, version)
	}
	botRunner, err := construct.ConstructBot(ctx, a.deps, username, bot, *cfg)
	if err != nil {
		return false, err
	}
	started, err := a.runner.Start(ctx, botRunner)
	if err != nil || !started {
		return started, err
	}
	a.registerAux(username, bot, botRunner)
	if err := a.deps.Store.SetBotRunningVersion(ctx, username, bot, version); err != nil {
		return true, err
	}
	_, err = a.deps.Store.SaveEvent(ctx, username, bot, store.BotEvent{
		Event:    store.BotStarted,
		Username: username,
		Version:  &version,
	})
	return true, err
}

// stopBot tears the bot down; false means it was not running.
func (a *API) stopBot(ctx context.Context, username, bot string) (bool, error) {
	stopped := a.runner.Stop(username, bot)
	a.unregisterAux(username, bot)
	if _, err := a.deps.Store.SetBotNotRunning(ctx, username, bot); err != nil {
		return stopped, err
	}
	if !stopped {
		return false, nil
	}
	_, err := a.deps.Store.SaveEvent(ctx, username, bot, store.BotEvent{
		Event:    store.BotStopped,
		Username: username,
	})
	return true, err
}

func auxKey(method, path string) string {
	return method + " " + path
}

func (a *API) registerAux(username, bot string, r *construct.BotRunner) {
	if len(r.AuxEndpoints) == 0 {
		return
	}
	a.auxMu.Lock()
	defer a.auxMu.Unlock()
	botKey := store.CompositeKey(username, bot)
	for _, ep := range r.AuxEndpoints {
		key := auxKey(strings.ToUpper(ep.Method), ep.Path)
		a.aux[key] = ep.Handler
		a.auxByBot[botKey] = append(a.auxByBot[botKey], key)
	}
}

func (a *API) unregisterAux(username, bot string) {
	a.auxMu.Lock()
	defer a.auxMu.Unlock()
	botKey := store.CompositeKey(username, bot)
	for _, key := range a.auxByBot[botKey] {
		delete(a.aux, key)
	}
	delete(a.auxByBot, botKey)
}

// dispatchAux serves endpoints contributed by running bots' flow blocks.
func (a *API) dispatchAux(w http.ResponseWriter, r *http.Request) {
	a.auxMu.RLock()
	handler, ok := a.aux[auxKey(r.Method, r.URL.Path)]
	a.auxMu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}
