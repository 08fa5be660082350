package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/botforge/botforge/internal/media"
)

// maxMediaSize bounds uploads; matches telegram's photo-by-upload limit.
const maxMediaSize = 10 << 20

func (a *API) handleSaveMedia(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	content, err := io.ReadAll(io.LimitReader(r.Body, maxMediaSize+1))
	if err != nil {
		a.respondError(w, err)
		return
	}
	if len(content) == 0 {
		a.respondError(w, badRequestf("media body must not be empty"))
		return
	}
	if len(content) > maxMediaSize {
		a.respondError(w, badRequestf("media exceeds maximum size of %d bytes", maxMediaSize))
		return
	}
	m := media.Media{Content: content}
	if filename := r.Header.Get(FilenameHeader); filename != "" {
		m.Filename = &filename
	}
	mediaID, err := a.deps.Media.SaveMedia(r.Context(), user.Username, m)
	if err != nil {
		a.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(mediaID)); err != nil {
		a.log.Error().Err(err).Msg("failed to write media id")
	}
}

func (a *API) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	mediaID := mux.Vars(r)["mediaID"]
	m, err := a.deps.Media.LoadMedia(r.Context(), user.Username, mediaID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if m == nil {
		a.respondError(w, notFoundf("media %q does not exist", mediaID))
		return
	}
	contentType := m.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if m.Filename != nil {
		w.Header().Set(FilenameHeader, *m.Filename)
	}
	if _, err := w.Write(m.Content); err != nil {
		a.log.Error().Err(err).Msg("failed to write media content")
	}
}

func (a *API) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	mediaID := mux.Vars(r)["mediaID"]
	deleted, err := a.deps.Media.DeleteMedia(r.Context(), user.Username, mediaID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !deleted {
		a.respondError(w, notFoundf("media %q does not exist", mediaID))
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"media_id": mediaID})
}
