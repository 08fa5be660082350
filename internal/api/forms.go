package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/forms"
)

const (
	defaultPageCount = 20
	maxPageCount     = 1000
)

func paginationParams(r *http.Request) (offset int, count int, err error) {
	offset, err = intQueryParam(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	count, err = intQueryParam(r, "count", defaultPageCount)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 || count < 0 || count > maxPageCount {
		return 0, 0, badRequestf("offset must be non-negative and count within [0, %d]", maxPageCount)
	}
	return offset, count, nil
}

func intQueryParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequestf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func floatQueryParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequestf("%s must be a number, got %q", name, raw)
	}
	return &f, nil
}

// formID builds the global form id for the request's path variables,
// verifying the form exists (has a stored prompt).
func (a *API) formID(r *http.Request, username string) (forms.GlobalFormID, string, error) {
	bot, err := botID(r)
	if err != nil {
		return forms.GlobalFormID{}, "", err
	}
	id := forms.GlobalFormID{
		OwnerID:     username,
		BotID:       bot,
		FormBlockID: mux.Vars(r)["formBlockID"],
	}
	prompt, ok, err := a.deps.FormResults.LoadPrompt(r.Context(), id)
	if err != nil {
		return id, "", err
	}
	if !ok {
		return id, "", notFoundf("form %q of bot %q has no stored responses", id.FormBlockID, bot)
	}
	return id, prompt, nil
}

type formResultsPage struct {
	BotID       string             `json:"bot_id"`
	FormBlockID string             `json:"form_block_id"`
	Prompt      string             `json:"prompt"`
	Title       *string            `json:"title"`
	FieldNames  []forms.FieldName  `json:"field_names"`
	Total       int64              `json:"total"`
	Results     []forms.FormResult `json:"results"`
}

func (a *API) handleFormResponses(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	formID, prompt, err := a.formID(r, user.Username)
	if err != nil {
		a.respondError(w, err)
		return
	}
	offset, count, err := paginationParams(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	ctx := r.Context()
	page := formResultsPage{
		BotID:       formID.BotID,
		FormBlockID: formID.FormBlockID,
		Prompt:      prompt,
	}
	if title, ok, err := a.deps.FormResults.LoadTitle(ctx, formID); err != nil {
		a.respondError(w, err)
		return
	} else if ok {
		page.Title = &title
	}
	if page.FieldNames, err = a.deps.FormResults.LoadFieldNames(ctx, formID); err != nil {
		a.respondError(w, err)
		return
	}
	if page.Total, err = a.deps.FormResults.CountResults(ctx, formID); err != nil {
		a.respondError(w, err)
		return
	}
	if page.Results, err = a.deps.FormResults.LoadPage(ctx, formID, offset, count); err != nil {
		a.respondError(w, err)
		return
	}
	if page.Results == nil {
		page.Results = []forms.FormResult{}
	}
	a.respondJSON(w, http.StatusOK, page)
}

func (a *API) handleFormExport(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	formID, _, err := a.formID(r, user.Username)
	if err != nil {
		a.respondError(w, err)
		return
	}
	var filter forms.ResultsFilter
	if filter.MinTimestamp, err = floatQueryParam(r, "min_timestamp"); err != nil {
		a.respondError(w, err)
		return
	}
	if filter.MaxTimestamp, err = floatQueryParam(r, "max_timestamp"); err != nil {
		a.respondError(w, err)
		return
	}
	ctx := r.Context()
	fieldNames, err := a.deps.FormResults.LoadFieldNames(ctx, formID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	results, _, err := a.deps.FormResults.Load(ctx, formID, filter, 0)
	if err != nil {
		a.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", formID.FormBlockID+"-results.csv"))
	if err := a.deps.FormResults.WriteCSV(w, fieldNames, results); err != nil {
		a.log.Error().Err(err).Msg("failed to stream form results CSV")
	}
}

func (a *API) handleSetFormTitle(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	formID, _, err := a.formID(r, user.Username)
	if err != nil {
		a.respondError(w, err)
		return
	}
	title, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		a.respondError(w, err)
		return
	}
	if len(title) == 0 {
		a.respondError(w, badRequestf("title must not be empty"))
		return
	}
	if err := a.deps.FormResults.SaveTitle(r.Context(), formID, string(title)); err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"form_block_id": formID.FormBlockID})
}

type botErrorsPage struct {
	BotID  string            `json:"bot_id"`
	Errors []errlog.BotError `json:"errors"`
}

func (a *API) handleBotErrors(w http.ResponseWriter, r *http.Request) {
	user, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	bot, err := botID(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	offset, count, err := paginationParams(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	errs, err := a.deps.Store.Errors.LoadErrors(r.Context(), user.Username, bot, offset, count)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if errs == nil {
		errs = []errlog.BotError{}
	}
	a.respondJSON(w, http.StatusOK, botErrorsPage{BotID: bot, Errors: errs})
}
