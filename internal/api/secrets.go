package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/botforge/botforge/internal/secrets"
)

func (a *API) handleSaveSecret(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	value, err := io.ReadAll(io.LimitReader(r.Body, secrets.MaxSecretLen+1))
	if err != nil {
		a.respondError(w, err)
		return
	}
	if err := a.deps.Secrets.SaveSecret(r.Context(), user.Username, name, value); err != nil {
		switch err {
		case secrets.ErrSecretTooLong, secrets.ErrEmptySecret, secrets.ErrQuotaExceeded:
			a.respondError(w, badRequestf("%v", err))
		default:
			a.respondError(w, err)
		}
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"name": name})
}

func (a *API) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	removed, err := a.deps.Secrets.RemoveSecret(r.Context(), user.Username, name)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !removed {
		a.respondError(w, notFoundf("secret %q does not exist", name))
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"name": name})
}

func (a *API) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	names, err := a.deps.Secrets.ListSecrets(r.Context(), user.Username)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	a.respondJSON(w, http.StatusOK, names)
}
