// Package forms stores filled-in form responses keyed by
// (owner, bot, form block), together with form titles and field labels.
package forms

import (
	"errors"
	"fmt"
	"strings"
)

// FieldID identifies one field within a form definition.
type FieldID = string

// Reserved result keys filled by the form runtime; forbidden as
// user-defined field ids.
const (
	ReservedTimestampKey = "timestamp"
	ReservedUserKey      = "user"
)

// FormResult is one filled-in form: field id -> scalar answer, plus the
// reserved "timestamp" (float seconds) and "user" keys.
type FormResult map[FieldID]any

// Timestamp extracts the reserved timestamp; ok is false when it is
// missing or non-numeric.
func (r FormResult) Timestamp() (float64, bool) {
	switch ts := r[ReservedTimestampKey].(type) {
	case float64:
		return ts, true
	case int:
		return float64(ts), true
	case int64:
		return float64(ts), true
	default:
		return 0, false
	}
}

// GlobalFormID identifies a form across all owners and bots.
type GlobalFormID struct {
	OwnerID     string
	BotID       string
	FormBlockID string
}

// AsKey renders the id as a composite storage key.
func (id GlobalFormID) AsKey() string {
	return strings.Join([]string{id.OwnerID, id.BotID, id.FormBlockID}, "/")
}

// ParseGlobalFormID is the inverse of AsKey.
func ParseGlobalFormID(key string) (GlobalFormID, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return GlobalFormID{}, fmt.Errorf("malformed global form id key: %q", key)
	}
	return GlobalFormID{OwnerID: parts[0], BotID: parts[1], FormBlockID: parts[2]}, nil
}

// FieldName is one field label; the slice ordering preserves the form's
// field definition order for display and CSV export.
type FieldName struct {
	ID   FieldID `json:"id"`
	Name string  `json:"name"`
}

// FormInfoBasic is the per-form summary used in listings.
type FormInfoBasic struct {
	FormBlockID    string  `json:"form_block_id"`
	Prompt         string  `json:"prompt"`
	Title          *string `json:"title"`
	TotalResponses int64   `json:"total_responses"`
}

// ResultsFilter bounds results by the reserved timestamp. Entries with a
// missing or non-numeric timestamp pass every filter.
type ResultsFilter struct {
	MinTimestamp *float64
	MaxTimestamp *float64
}

func (f ResultsFilter) passes(ts float64, hasTs bool) bool {
	if !hasTs {
		return true
	}
	if f.MinTimestamp != nil && ts < *f.MinTimestamp {
		return false
	}
	if f.MaxTimestamp != nil && ts > *f.MaxTimestamp {
		return false
	}
	return true
}

// beyondMax reports that this and all following (strictly newer) entries
// are out of the window.
func (f ResultsFilter) beyondMax(ts float64, hasTs bool) bool {
	return hasTs && f.MaxTimestamp != nil && ts > *f.MaxTimestamp
}

// ErrNoPrompt is returned when a form that has stored responses is missing
// its prompt record; the prompt is the form's existence sentinel.
var ErrNoPrompt = errors.New("form has no stored prompt")
