package flow

import (
	"context"
	"fmt"
	"hash/fnv"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/telegram"
)

const (
	formCancelCommand = "/cancel"
	formSkipCommand   = "/skip"

	// formHandlerPriority puts the active-form handler ahead of command
	// entrypoints so a mid-form "/cancel" reaches the form, not the flow.
	formHandlerPriority = 100
)

// UserAttribution controls how the filling user is represented in echoed
// and exported form results.
type UserAttribution string

const (
	AttributionFull     UserAttribution = "full"
	AttributionName     UserAttribution = "name"
	AttributionUniqueID UserAttribution = "unique_id"
	AttributionNone     UserAttribution = "none"
)

type SelectOption struct {
	ID    string `json:"id"`
	Label Text   `json:"label"`
}

type PlainTextFormField struct {
	FieldID           string `json:"id"`
	Name              string `json:"name"`
	Prompt            Text   `json:"prompt"`
	IsRequired        bool   `json:"is_required"`
	IsLongText        bool   `json:"is_long_text,omitempty"`
	EmptyTextErrorMsg Text   `json:"empty_text_error_msg"`
}

type SingleSelectFormField struct {
	FieldID             string         `json:"id"`
	Name                string         `json:"name"`
	Prompt              Text           `json:"prompt"`
	IsRequired          bool           `json:"is_required"`
	Options             []SelectOption `json:"options"`
	InvalidEnumErrorMsg Text           `json:"invalid_enum_error_msg"`
}

// FormFieldConfig is a tagged union over the supported field kinds.
type FormFieldConfig struct {
	PlainText    *PlainTextFormField    `json:"plain_text,omitempty"`
	SingleSelect *SingleSelectFormField `json:"single_select,omitempty"`
}

// FormBranch nests members taken only when the immediately preceding
// field's answer equals the condition value; a nil condition always
// matches.
type FormBranch struct {
	Members             []FormMemberConfig `json:"members"`
	ConditionMatchValue *string            `json:"condition_match_value,omitempty"`
}

// FormMemberConfig is a tagged union: a field or a nested branch.
type FormMemberConfig struct {
	Field  *FormFieldConfig `json:"field,omitempty"`
	Branch *FormBranch      `json:"branch,omitempty"`
}

// FormMessages are the owner-configurable template texts. Placeholder
// counts are fixed per slot and validated at setup; empty texts fall back
// to defaults.
type FormMessages struct {
	FormStart               Text `json:"form_start"`
	CancelCommandIs         Text `json:"cancel_command_is"`
	FieldIsSkippable        Text `json:"field_is_skippable"`
	FieldIsNotSkippable     Text `json:"field_is_not_skippable"`
	PleaseEnterCorrectValue Text `json:"please_enter_correct_value"`
	UnsupportedCommand      Text `json:"unsupported_command"`
}

type FormResultsChatExport struct {
	ChatID             int64 `json:"chat_id"`
	ViaFeedbackHandler bool  `json:"via_feedback_handler,omitempty"`
}

type FormResultsExport struct {
	EchoToUser      bool                   `json:"echo_to_user"`
	ToStore         bool                   `json:"to_store"`
	ToChat          *FormResultsChatExport `json:"to_chat,omitempty"`
	UserAttribution UserAttribution        `json:"user_attribution,omitempty"`
	IsAnonymous     *bool                  `json:"is_anonymous,omitempty"`
}

// Attribution resolves the effective mode, mapping the legacy
// is_anonymous flag when the explicit mode is absent.
func (e FormResultsExport) Attribution() UserAttribution {
	if e.UserAttribution != "" {
		return e.UserAttribution
	}
	if e.IsAnonymous != nil {
		if *e.IsAnonymous {
			return AttributionNone
		}
		return AttributionFull
	}
	return AttributionNone
}

// FormBlock collects typed answers to a branching sequence of fields.
type FormBlock struct {
	BlockID                  string             `json:"block_id"`
	Members                  []FormMemberConfig `json:"members"`
	Messages                 FormMessages       `json:"messages"`
	ResultsExport            FormResultsExport  `json:"results_export"`
	FormCompletedNextBlockID *BlockID           `json:"form_completed_next_block_id,omitempty"`
	FormCancelledNextBlockID *BlockID           `json:"form_cancelled_next_block_id,omitempty"`

	fields   []compiledFormField
	messages formMessageSet
	states   *typed.KeyValue[formState]
}

func (b *FormBlock) ID() BlockID { return b.BlockID }

func (b *FormBlock) PossibleNextBlockIDs() []BlockID {
	var out []BlockID
	if b.FormCompletedNextBlockID != nil {
		out = append(out, *b.FormCompletedNextBlockID)
	}
	if b.FormCancelledNextBlockID != nil {
		out = append(out, *b.FormCancelledNextBlockID)
	}
	return out
}

func (b *FormBlock) IsCatchAll() bool { return false }

// fieldCondition gates a field on a previously answered value.
type fieldCondition struct {
	fieldID    string
	matchValue *string
}

type compiledFormField struct {
	id         string
	name       string
	prompt     Text
	required   bool
	conditions []fieldCondition
	validate   func(input string, lang Language, fallback Language) (string, Text, bool)
	keyboard   func(lang Language, fallback Language) models.ReplyMarkup
}

type formState struct {
	Values    map[string]string `json:"values"`
	FieldIdx  int               `json:"field_idx"`
	StartedAt float64           `json:"started_at"`
}

// formMessageSet is the validated, punctuation-normalized message set.
type formMessageSet struct {
	formStart               Text
	cancelCommandIs         Text
	fieldIsSkippable        Text
	fieldIsNotSkippable     Text
	pleaseEnterCorrectValue Text
	unsupportedCommand      Text
}

var defaultFormMessages = formMessageSet{
	formStart:               PlainText("Please fill in the form."),
	cancelCommandIs:         PlainText("Send {} to abort."),
	fieldIsSkippable:        PlainText("Send {} to skip this question."),
	fieldIsNotSkippable:     PlainText("This question is required."),
	pleaseEnterCorrectValue: PlainText("Please enter a valid answer."),
	unsupportedCommand:      PlainText("The only commands available here are: {}."),
}

func (b *FormBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	langs := sctx.Languages()
	fields, _, err := b.compileMembers(b.Members, nil, "", langs)
	if err != nil {
		return SetupResult{}, err
	}
	if len(fields) == 0 {
		return SetupResult{}, invalidFlow("form block %q has no fields", b.BlockID)
	}
	seen := make(map[string]struct{})
	for _, f := range fields {
		if f.id == forms.ReservedTimestampKey || f.id == forms.ReservedUserKey {
			return SetupResult{}, invalidFlow("form block %q: field id %q is reserved", b.BlockID, f.id)
		}
		if _, dup := seen[f.id]; dup {
			return SetupResult{}, invalidFlow("form block %q: duplicate field id %q", b.BlockID, f.id)
		}
		seen[f.id] = struct{}{}
	}
	b.fields = fields

	msgs, err := b.validateMessages(langs)
	if err != nil {
		return SetupResult{}, err
	}
	b.messages = msgs

	b.states = typed.NewKeyValue[formState](typed.Options{
		Name:    "form-state",
		Prefix:  storePrefix,
		TTL:     activeBlockTTL,
		Backend: sctx.Backend,
	})

	sctx.Router.Handle("form:"+b.BlockID, formHandlerPriority, func(u *models.Update) bool {
		return u.Message != nil && u.Message.From != nil
	}, func(ctx context.Context, _ telegram.Client, upd *models.Update) error {
		return b.handleMessage(ctx, sctx, upd)
	})
	return SetupResult{}, nil
}

// compileMembers flattens the member tree into a guarded field sequence.
// Fields inside a branch inherit the branch's condition chain; lastField
// threads through so a branch can condition on the field right before it.
func (b *FormBlock) compileMembers(members []FormMemberConfig, conds []fieldCondition, lastField string, langs []Language) ([]compiledFormField, string, error) {
	var out []compiledFormField
	for i, m := range members {
		switch {
		case m.Field != nil && m.Branch == nil:
			f, err := b.compileField(m.Field, conds, langs)
			if err != nil {
				return nil, "", err
			}
			out = append(out, f)
			lastField = f.id
		case m.Branch != nil && m.Field == nil:
			if m.Branch.ConditionMatchValue != nil && lastField == "" {
				return nil, "", invalidFlow("form block %q: conditional branch %d has no preceding field", b.BlockID, i)
			}
			branchConds := append(append([]fieldCondition{}, conds...), fieldCondition{
				fieldID:    lastField,
				matchValue: m.Branch.ConditionMatchValue,
			})
			nested, last, err := b.compileMembers(m.Branch.Members, branchConds, lastField, langs)
			if err != nil {
				return nil, "", err
			}
			out = append(out, nested...)
			lastField = last
		default:
			return nil, "", invalidFlow("form block %q: member %d must be a field or a branch", b.BlockID, i)
		}
	}
	return out, lastField, nil
}

func (b *FormBlock) compileField(cfg *FormFieldConfig, conds []fieldCondition, langs []Language) (compiledFormField, error) {
	switch {
	case cfg.PlainText != nil && cfg.SingleSelect == nil:
		f := cfg.PlainText
		for _, t := range []Text{f.Prompt, f.EmptyTextErrorMsg} {
			if err := t.ValidateCoverage(langs); err != nil {
				return compiledFormField{}, invalidFlow("form block %q: field %q: %s", b.BlockID, f.FieldID, err)
			}
		}
		errMsg := f.EmptyTextErrorMsg
		return compiledFormField{
			id:         f.FieldID,
			name:       f.Name,
			prompt:     f.Prompt,
			required:   f.IsRequired,
			conditions: conds,
			validate: func(input string, lang Language, fallback Language) (string, Text, bool) {
				if strings.TrimSpace(input) == "" {
					return "", errMsg, false
				}
				return input, Text{}, true
			},
			keyboard: func(Language, Language) models.ReplyMarkup {
				return models.ReplyKeyboardRemove{RemoveKeyboard: true}
			},
		}, nil
	case cfg.SingleSelect != nil && cfg.PlainText == nil:
		f := cfg.SingleSelect
		if len(f.Options) == 0 {
			return compiledFormField{}, invalidFlow("form block %q: field %q has no options", b.BlockID, f.FieldID)
		}
		if err := f.Prompt.ValidateCoverage(langs); err != nil {
			return compiledFormField{}, invalidFlow("form block %q: field %q: %s", b.BlockID, f.FieldID, err)
		}
		for _, opt := range f.Options {
			if err := opt.Label.ValidateCoverage(langs); err != nil {
				return compiledFormField{}, invalidFlow("form block %q: field %q: %s", b.BlockID, f.FieldID, err)
			}
		}
		options := f.Options
		errMsg := f.InvalidEnumErrorMsg
		return compiledFormField{
			id:         f.FieldID,
			name:       f.Name,
			prompt:     f.Prompt,
			required:   f.IsRequired,
			conditions: conds,
			validate: func(input string, lang Language, fallback Language) (string, Text, bool) {
				for _, opt := range options {
					if input == opt.Label.Localize(lang, fallback) || input == opt.ID {
						return opt.Label.Localize(lang, fallback), Text{}, true
					}
				}
				return "", errMsg, false
			},
			keyboard: func(lang Language, fallback Language) models.ReplyMarkup {
				var rows [][]models.KeyboardButton
				for _, opt := range options {
					rows = append(rows, []models.KeyboardButton{{Text: opt.Label.Localize(lang, fallback)}})
				}
				return models.ReplyKeyboardMarkup{
					Keyboard:        rows,
					ResizeKeyboard:  true,
					OneTimeKeyboard: true,
				}
			},
		}, nil
	default:
		return compiledFormField{}, invalidFlow("form block %q: field config must have exactly one kind set", b.BlockID)
	}
}

// validateMessages checks placeholder counts per slot, applies defaults
// for empty slots and normalizes trailing punctuation.
func (b *FormBlock) validateMessages(langs []Language) (formMessageSet, error) {
	slots := []struct {
		name         string
		configured   Text
		fallback     Text
		placeholders int
		out          func(*formMessageSet, Text)
	}{
		{"form_start", b.Messages.FormStart, defaultFormMessages.formStart, 0,
			func(s *formMessageSet, t Text) { s.formStart = t }},
		{"cancel_command_is", b.Messages.CancelCommandIs, defaultFormMessages.cancelCommandIs, 1,
			func(s *formMessageSet, t Text) { s.cancelCommandIs = t }},
		{"field_is_skippable", b.Messages.FieldIsSkippable, defaultFormMessages.fieldIsSkippable, 1,
			func(s *formMessageSet, t Text) { s.fieldIsSkippable = t }},
		{"field_is_not_skippable", b.Messages.FieldIsNotSkippable, defaultFormMessages.fieldIsNotSkippable, 0,
			func(s *formMessageSet, t Text) { s.fieldIsNotSkippable = t }},
		{"please_enter_correct_value", b.Messages.PleaseEnterCorrectValue, defaultFormMessages.pleaseEnterCorrectValue, 0,
			func(s *formMessageSet, t Text) { s.pleaseEnterCorrectValue = t }},
		{"unsupported_command", b.Messages.UnsupportedCommand, defaultFormMessages.unsupportedCommand, 1,
			func(s *formMessageSet, t Text) { s.unsupportedCommand = t }},
	}
	var set formMessageSet
	for _, slot := range slots {
		t := slot.configured
		if t.IsEmpty() {
			t = slot.fallback
		}
		if err := t.ValidateCoverage(langs); err != nil {
			return formMessageSet{}, invalidFlow("form block %q: message %s: %s", b.BlockID, slot.name, err)
		}
		if err := validatePlaceholders(t, slot.placeholders); err != nil {
			return formMessageSet{}, invalidFlow("form block %q: message %s: %s", b.BlockID, slot.name, err)
		}
		slot.out(&set, ensurePunctuated(t))
	}
	return set, nil
}

func validatePlaceholders(t Text, want int) error {
	check := func(s string) error {
		if got := strings.Count(s, "{}"); got != want {
			return fmt.Errorf("expected %d placeholder(s), found %d", want, got)
		}
		return nil
	}
	if t.ByLanguage == nil {
		return check(t.Plain)
	}
	for _, s := range t.ByLanguage {
		if err := check(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *FormBlock) Enter(ctx context.Context, fctx *Context) error {
	state := formState{
		Values:    make(map[string]string),
		FieldIdx:  -1,
		StartedAt: unixSeconds(fctx.Setup.Clock.Now()),
	}
	next, ok := b.nextField(state, -1)
	if !ok {
		return fmt.Errorf("form block %q: no first field", b.BlockID)
	}
	state.FieldIdx = next
	if err := b.states.Save(ctx, b.stateKey(fctx), state); err != nil {
		return err
	}

	start := b.messages.formStart.Localize(fctx.Language, fctx.Setup.defaultLanguage())
	cancelHint := strings.Replace(
		b.messages.cancelCommandIs.Localize(fctx.Language, fctx.Setup.defaultLanguage()),
		"{}", formCancelCommand, 1)
	if err := b.sendText(ctx, fctx, start+" "+cancelHint, nil); err != nil {
		return err
	}
	return b.promptField(ctx, fctx, b.fields[next])
}

func (b *FormBlock) stateKey(fctx *Context) string {
	return fctx.Setup.BotPrefix() + "/" + fmt.Sprintf("%d", fctx.User.ID)
}

// nextField finds the first field after idx whose conditions are all
// satisfied by the answers collected so far.
func (b *FormBlock) nextField(state formState, idx int) (int, bool) {
	for i := idx + 1; i < len(b.fields); i++ {
		if b.conditionsMet(b.fields[i].conditions, state.Values) {
			return i, true
		}
	}
	return 0, false
}

func (b *FormBlock) conditionsMet(conds []fieldCondition, values map[string]string) bool {
	for _, c := range conds {
		if c.matchValue == nil {
			continue
		}
		if values[c.fieldID] != *c.matchValue {
			return false
		}
	}
	return true
}

func (b *FormBlock) promptField(ctx context.Context, fctx *Context, field compiledFormField) error {
	lang, fallback := fctx.Language, fctx.Setup.defaultLanguage()
	prompt := field.prompt.Localize(lang, fallback)
	var hint string
	if field.required {
		hint = b.messages.fieldIsNotSkippable.Localize(lang, fallback)
	} else {
		hint = strings.Replace(b.messages.fieldIsSkippable.Localize(lang, fallback), "{}", formSkipCommand, 1)
	}
	return b.sendText(ctx, fctx, prompt+"\n"+hint, field.keyboard(lang, fallback))
}

// handleMessage consumes one message while this form is in progress for
// the sender; otherwise it declines so dispatch continues down the chain.
func (b *FormBlock) handleMessage(ctx context.Context, sctx *SetupContext, upd *models.Update) error {
	fctx, err := sctx.newContext(ctx, upd)
	if err != nil {
		return err
	}
	state, inProgress, err := b.states.Load(ctx, b.stateKey(fctx))
	if err != nil {
		return err
	}
	if !inProgress {
		return telegram.ErrSkipHandler
	}
	if active, ok, err := sctx.flow.ActiveBlock(ctx, sctx, fctx.User.ID); err != nil {
		return err
	} else if !ok || active != b.BlockID {
		// stale form state from a previous flow position
		return telegram.ErrSkipHandler
	}

	text := upd.Message.Text
	switch {
	case text == formCancelCommand:
		return b.cancel(ctx, fctx)
	case text == formSkipCommand:
		return b.skip(ctx, fctx, state)
	case strings.HasPrefix(text, "/"):
		msg := strings.Replace(
			b.messages.unsupportedCommand.Localize(fctx.Language, fctx.Setup.defaultLanguage()),
			"{}", formSkipCommand+", "+formCancelCommand, 1)
		return b.sendText(ctx, fctx, msg, nil)
	default:
		return b.answer(ctx, fctx, state, text)
	}
}

func (b *FormBlock) cancel(ctx context.Context, fctx *Context) error {
	if _, err := b.states.Drop(ctx, b.stateKey(fctx)); err != nil {
		return err
	}
	if b.FormCancelledNextBlockID != nil {
		return fctx.EnterBlock(ctx, *b.FormCancelledNextBlockID)
	}
	return nil
}

func (b *FormBlock) skip(ctx context.Context, fctx *Context, state formState) error {
	field := b.fields[state.FieldIdx]
	if field.required {
		msg := b.messages.fieldIsNotSkippable.Localize(fctx.Language, fctx.Setup.defaultLanguage())
		return b.sendText(ctx, fctx, msg, nil)
	}
	return b.advance(ctx, fctx, state)
}

func (b *FormBlock) answer(ctx context.Context, fctx *Context, state formState, text string) error {
	field := b.fields[state.FieldIdx]
	value, errMsg, ok := field.validate(text, fctx.Language, fctx.Setup.defaultLanguage())
	if !ok {
		msg := errMsg.Localize(fctx.Language, fctx.Setup.defaultLanguage())
		if msg == "" {
			msg = b.messages.pleaseEnterCorrectValue.Localize(fctx.Language, fctx.Setup.defaultLanguage())
		}
		return b.sendText(ctx, fctx, msg, nil)
	}
	state.Values[field.id] = value
	return b.advance(ctx, fctx, state)
}

func (b *FormBlock) advance(ctx context.Context, fctx *Context, state formState) error {
	next, ok := b.nextField(state, state.FieldIdx)
	if !ok {
		return b.complete(ctx, fctx, state)
	}
	state.FieldIdx = next
	if err := b.states.Save(ctx, b.stateKey(fctx), state); err != nil {
		return err
	}
	return b.promptField(ctx, fctx, b.fields[next])
}

func (b *FormBlock) complete(ctx context.Context, fctx *Context, state formState) error {
	sctx := fctx.Setup
	if _, err := b.states.Drop(ctx, b.stateKey(fctx)); err != nil {
		return err
	}

	attribution := b.ResultsExport.Attribution()
	if b.ResultsExport.EchoToUser {
		if err := b.sendHTML(ctx, fctx, fctx.ChatID, b.renderResult(state, fctx, AttributionNone)); err != nil {
			sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to echo form result")
		}
	}
	if export := b.ResultsExport.ToChat; export != nil {
		rendered := b.renderResult(state, fctx, attribution)
		var err error
		if export.ViaFeedbackHandler && sctx.flow.feedback != nil {
			err = sctx.flow.feedback.EmulateUserMessage(ctx, sctx.Client, fctx.User, rendered)
		} else {
			err = b.sendHTML(ctx, fctx, export.ChatID, rendered)
		}
		if err != nil {
			sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to export form result to chat")
		}
	}
	if b.ResultsExport.ToStore {
		if err := b.persistResult(ctx, fctx, state, attribution); err != nil {
			sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to persist form result")
		}
	}
	if b.FormCompletedNextBlockID != nil {
		return fctx.EnterBlock(ctx, *b.FormCompletedNextBlockID)
	}
	return nil
}

// renderResult builds the HTML digest of a completed form.
func (b *FormBlock) renderResult(state formState, fctx *Context, attribution UserAttribution) string {
	var sb strings.Builder
	if who := attributeUserHTML(fctx.User, attribution); who != "" {
		sb.WriteString(who)
		sb.WriteString("\n")
	}
	for _, f := range b.fields {
		value, ok := state.Values[f.id]
		if !ok {
			continue
		}
		sb.WriteString("<b>")
		sb.WriteString(html.EscapeString(f.name))
		sb.WriteString("</b>: ")
		sb.WriteString(html.EscapeString(value))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *FormBlock) persistResult(ctx context.Context, fctx *Context, state formState, attribution UserAttribution) error {
	sctx := fctx.Setup
	formID := forms.GlobalFormID{
		OwnerID:     sctx.OwnerID,
		BotID:       sctx.BotID,
		FormBlockID: b.BlockID,
	}
	result := forms.FormResult{
		forms.ReservedTimestampKey: unixSeconds(sctx.Clock.Now()),
		forms.ReservedUserKey:      attributeUserPlain(fctx.User, attribution),
	}
	for _, f := range b.fields {
		if v, ok := state.Values[f.id]; ok {
			result[f.id] = v
		}
	}
	if _, err := sctx.FormResults.SaveResult(ctx, formID, result); err != nil {
		return err
	}
	names := make([]forms.FieldName, 0, len(b.fields))
	for _, f := range b.fields {
		names = append(names, forms.FieldName{ID: f.id, Name: f.name})
	}
	if err := sctx.FormResults.SaveFieldNames(ctx, formID, names); err != nil {
		return err
	}
	prompt := b.messages.formStart.Localize(fctx.Language, sctx.defaultLanguage())
	return sctx.FormResults.SavePrompt(ctx, formID, prompt)
}

func (b *FormBlock) sendText(ctx context.Context, fctx *Context, text string, markup models.ReplyMarkup) error {
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return fctx.Setup.Client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      fctx.ChatID,
			Text:        text,
			ReplyMarkup: markup,
		})
	})
	return err
}

func (b *FormBlock) sendHTML(ctx context.Context, fctx *Context, chatID int64, text string) error {
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return fctx.Setup.Client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
	})
	return err
}

func userFullName(user *models.User) string {
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}

func attributeUserHTML(user *models.User, mode UserAttribution) string {
	if user == nil {
		return ""
	}
	switch mode {
	case AttributionFull:
		return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, html.EscapeString(userFullName(user)))
	case AttributionName:
		return html.EscapeString(userFullName(user))
	case AttributionUniqueID:
		return userEmojiTuple(user.ID)
	default:
		return ""
	}
}

func attributeUserPlain(user *models.User, mode UserAttribution) string {
	if user == nil {
		return ""
	}
	switch mode {
	case AttributionFull, AttributionName:
		return userFullName(user)
	case AttributionUniqueID:
		return userEmojiTuple(user.ID)
	default:
		return ""
	}
}

var attributionEmoji = []string{
	"🦊", "🐻", "🐼", "🐨", "🦁", "🐯", "🐮", "🐷", "🐸", "🐵",
	"🐔", "🐧", "🦉", "🦄", "🐝", "🦋", "🐢", "🐙", "🦀", "🐬",
}

// userEmojiTuple derives a stable three-emoji pseudonym from a user id.
func userEmojiTuple(userID int64) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", userID)
	v := h.Sum64()
	n := uint64(len(attributionEmoji))
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		sb.WriteString(attributionEmoji[v%n])
		v /= n
	}
	return sb.String()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

var _ Block = (*FormBlock)(nil)
