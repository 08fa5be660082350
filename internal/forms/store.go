package forms

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
)

const storePrefix = "telebot-constructor/form-results"

// Store keeps form responses and per-form metadata. Responses live in an
// append-only list per global form id; field labels, the form prompt and
// the user-set title live in sibling substores under the same key.
type Store struct {
	results    *typed.List[FormResult]
	fieldNames *typed.KeyValue[[]FieldName]
	prompts    *typed.KeyValue[string]
	titles     *typed.KeyValue[string]
	log        zerolog.Logger
}

func NewStore(backend kv.Store, log zerolog.Logger) *Store {
	return &Store{
		results: typed.NewList[FormResult](typed.Options{
			Name: "data", Prefix: storePrefix, Backend: backend,
		}),
		fieldNames: typed.NewKeyValue[[]FieldName](typed.Options{
			Name: "field-names", Prefix: storePrefix, Backend: backend,
		}),
		prompts: typed.NewKeyValue[string](typed.Options{
			Name: "form-prompt", Prefix: storePrefix, Backend: backend,
		}),
		titles: typed.NewKeyValue[string](typed.Options{
			Name: "form-title", Prefix: storePrefix, Backend: backend,
		}),
		log: log.With().Str("component", "form_results_store").Logger(),
	}
}

// SaveResult appends one filled-in form; it reports whether this was the
// form's first stored response.
func (s *Store) SaveResult(ctx context.Context, formID GlobalFormID, result FormResult) (bool, error) {
	n, err := s.results.Push(ctx, formID.AsKey(), result)
	if err != nil {
		return false, fmt.Errorf("save form result: %w", err)
	}
	return n == 1, nil
}

// SaveFieldNames stores field labels in form definition order, replacing
// any previous set.
func (s *Store) SaveFieldNames(ctx context.Context, formID GlobalFormID, names []FieldName) error {
	return s.fieldNames.Save(ctx, formID.AsKey(), names)
}

// LoadFieldNames returns field labels in definition order; nil when the
// form has none stored.
func (s *Store) LoadFieldNames(ctx context.Context, formID GlobalFormID) ([]FieldName, error) {
	names, ok, err := s.fieldNames.Load(ctx, formID.AsKey())
	if err != nil || !ok {
		return nil, err
	}
	return names, nil
}

// SavePrompt stores the form's prompt text. The prompt doubles as the
// form's existence marker for listings.
func (s *Store) SavePrompt(ctx context.Context, formID GlobalFormID, prompt string) error {
	return s.prompts.Save(ctx, formID.AsKey(), prompt)
}

// SaveTitle sets the user-facing form title.
func (s *Store) SaveTitle(ctx context.Context, formID GlobalFormID, title string) error {
	return s.titles.Save(ctx, formID.AsKey(), title)
}

// LoadPrompt returns the stored prompt; false when the form is unknown.
func (s *Store) LoadPrompt(ctx context.Context, formID GlobalFormID) (string, bool, error) {
	return s.prompts.Load(ctx, formID.AsKey())
}

// LoadTitle returns the user-set title; false when none was set.
func (s *Store) LoadTitle(ctx context.Context, formID GlobalFormID) (string, bool, error) {
	return s.titles.Load(ctx, formID.AsKey())
}

// ListForms returns summaries for every form of the bot that has at least
// one stored response. A form with responses but no prompt is an
// inconsistency and fails the listing.
func (s *Store) ListForms(ctx context.Context, ownerID string, botID string) ([]FormInfoBasic, error) {
	prefix := strings.Join([]string{ownerID, botID, ""}, "/")
	keys, err := s.results.FindKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list form keys: %w", err)
	}
	infos := make([]FormInfoBasic, 0, len(keys))
	for _, key := range keys {
		formID, err := ParseGlobalFormID(key)
		if err != nil {
			return nil, err
		}
		prompt, ok, err := s.prompts.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPrompt, key)
		}
		var title *string
		if t, ok, err := s.titles.Load(ctx, key); err != nil {
			return nil, err
		} else if ok {
			title = &t
		}
		total, err := s.results.Length(ctx, key)
		if err != nil {
			return nil, err
		}
		infos = append(infos, FormInfoBasic{
			FormBlockID:    formID.FormBlockID,
			Prompt:         prompt,
			Title:          title,
			TotalResponses: total,
		})
	}
	return infos, nil
}

// CountResults returns the number of stored responses for the form.
func (s *Store) CountResults(ctx context.Context, formID GlobalFormID) (int64, error) {
	return s.results.Length(ctx, formID.AsKey())
}

// LoadPage returns one page of responses in chronological order. Offset
// and count address the page as distances from the newest entry, so a
// fixed window stays stable as new responses arrive.
func (s *Store) LoadPage(ctx context.Context, formID GlobalFormID, offset int, count int) ([]FormResult, error) {
	return s.results.PageFromEnd(ctx, formID.AsKey(), offset, count)
}

const loadScanPageSize = 200

// Load returns up to maxCount responses passing the filter, oldest first,
// and reports whether the scan exhausted the stored results. The scan
// short-circuits at the first entry newer than the filter's upper bound.
func (s *Store) Load(ctx context.Context, formID GlobalFormID, filter ResultsFilter, maxCount int) ([]FormResult, bool, error) {
	key := formID.AsKey()
	var out []FormResult
	for start := int64(0); ; start += loadScanPageSize {
		page, err := s.results.Slice(ctx, key, start, start+loadScanPageSize-1)
		if err != nil {
			return nil, false, err
		}
		for _, res := range page {
			ts, hasTs := res.Timestamp()
			if filter.beyondMax(ts, hasTs) {
				return out, true, nil
			}
			if !filter.passes(ts, hasTs) {
				continue
			}
			out = append(out, res)
			if maxCount > 0 && len(out) >= maxCount {
				return out, false, nil
			}
		}
		if int64(len(page)) < loadScanPageSize {
			return out, true, nil
		}
	}
}

// WriteCSV streams the given responses as CSV: a header row of
// "Timestamp,User" followed by field labels in definition order, then one
// row per response. Timestamps are rendered in local time to the second.
func (s *Store) WriteCSV(w io.Writer, fieldNames []FieldName, results []FormResult) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, 2+len(fieldNames))
	header = append(header, "Timestamp", "User")
	for _, fn := range fieldNames {
		header = append(header, fn.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, res := range results {
		row[0] = ""
		if ts, ok := res.Timestamp(); ok {
			row[0] = time.Unix(int64(ts), 0).Format("2006-01-02T15:04:05")
		}
		row[1] = scalarToString(res[ReservedUserKey])
		for i, fn := range fieldNames {
			row[2+i] = scalarToString(res[fn.ID])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func scalarToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
