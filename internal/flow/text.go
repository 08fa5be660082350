package flow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Language is an IETF-style language code ("en", "ru").
type Language = string

// Text is either a plain string or a per-language map. Which one is in
// play is fixed by the bot config JSON, not by the runtime.
type Text struct {
	Plain      string
	ByLanguage map[Language]string
}

func PlainText(s string) Text { return Text{Plain: s} }

func (t Text) IsMultilang() bool { return t.ByLanguage != nil }

func (t *Text) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = Text{Plain: plain}
		return nil
	}
	var byLang map[Language]string
	if err := json.Unmarshal(data, &byLang); err != nil {
		return fmt.Errorf("text must be a string or a language map: %w", err)
	}
	*t = Text{ByLanguage: byLang}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.ByLanguage != nil {
		return json.Marshal(t.ByLanguage)
	}
	return json.Marshal(t.Plain)
}

// Localize picks the variant for lang, falling back to fallback and then
// to any defined variant.
func (t Text) Localize(lang Language, fallback Language) string {
	if t.ByLanguage == nil {
		return t.Plain
	}
	if s, ok := t.ByLanguage[lang]; ok {
		return s
	}
	if s, ok := t.ByLanguage[fallback]; ok {
		return s
	}
	langs := make([]Language, 0, len(t.ByLanguage))
	for l := range t.ByLanguage {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		return t.ByLanguage[langs[0]]
	}
	return ""
}

// ValidateCoverage checks that a multilang text defines every language
// the flow declares; plain texts always pass.
func (t Text) ValidateCoverage(langs []Language) error {
	if t.ByLanguage == nil {
		return nil
	}
	var missing []Language
	for _, l := range langs {
		if _, ok := t.ByLanguage[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("text is missing languages: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsEmpty reports that no variant has any content.
func (t Text) IsEmpty() bool {
	if t.ByLanguage == nil {
		return t.Plain == ""
	}
	for _, s := range t.ByLanguage {
		if s != "" {
			return false
		}
	}
	return true
}

// mapVariants applies f to every variant of the text.
func (t Text) mapVariants(f func(string) string) Text {
	if t.ByLanguage == nil {
		return Text{Plain: f(t.Plain)}
	}
	out := make(map[Language]string, len(t.ByLanguage))
	for l, s := range t.ByLanguage {
		out[l] = f(s)
	}
	return Text{ByLanguage: out}
}

func endsWithPunctuation(s string) bool {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	if trimmed == "" {
		return true
	}
	r := []rune(trimmed)
	last := r[len(r)-1]
	return unicode.IsPunct(last) || unicode.IsSymbol(last)
}

// ensurePunctuated appends a period to any variant that does not already
// end in punctuation.
func ensurePunctuated(t Text) Text {
	return t.mapVariants(func(s string) string {
		if s == "" || endsWithPunctuation(s) {
			return s
		}
		return s + "."
	})
}
