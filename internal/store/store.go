// Package store is the main application storage: versioned bot configs
// with metadata, the per-bot event log, the running-version map and
// display names, aggregated into owner-facing views.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
)

const storePrefix = "telebot-constructor"

// BotVersion is either a numeric config version or the reserved "stub"
// sentinel denoting a minimized no-flow variant.
type BotVersion struct {
	stub bool
	n    int
}

func NumericVersion(n int) BotVersion { return BotVersion{n: n} }

// StubVersion marks a bot running its config stub (chat discovery mode).
func StubVersion() BotVersion { return BotVersion{stub: true} }

// LatestVersion addresses the most recent saved version.
func LatestVersion() BotVersion { return BotVersion{n: -1} }

func (v BotVersion) IsStub() bool { return v.stub }

// Int returns the numeric version; only meaningful when not a stub.
func (v BotVersion) Int() int { return v.n }

func (v BotVersion) String() string {
	if v.stub {
		return "stub"
	}
	return fmt.Sprintf("%d", v.n)
}

func (v BotVersion) MarshalJSON() ([]byte, error) {
	if v.stub {
		return json.Marshal("stub")
	}
	return json.Marshal(v.n)
}

func (v *BotVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "stub" {
			return fmt.Errorf("unknown bot version sentinel: %q", s)
		}
		*v = BotVersion{stub: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bot version must be a number or \"stub\": %w", err)
	}
	*v = BotVersion{n: n}
	return nil
}

// BotConfigVersionMetadata annotates one saved config version. Timestamp
// is auto-filled at save when zero.
type BotConfigVersionMetadata struct {
	Timestamp      float64 `json:"timestamp,omitempty"`
	Message        *string `json:"message"`
	AuthorUsername *string `json:"author_username,omitempty"`
}

type BotEventKind string

const (
	BotStopped BotEventKind = "stopped"
	BotDeleted BotEventKind = "deleted"
	BotStarted BotEventKind = "started"
	BotEdited  BotEventKind = "edited"
)

// BotEvent is one entry of the per-bot append-only event log. Version is
// set for "started" events, NewVersion for "edited" ones.
type BotEvent struct {
	Event      BotEventKind `json:"event"`
	Timestamp  float64      `json:"timestamp,omitempty"`
	Username   string       `json:"username"`
	Version    *BotVersion  `json:"version,omitempty"`
	NewVersion *int         `json:"new_version,omitempty"`
}

// BotVersionInfo pairs a version number with its metadata.
type BotVersionInfo struct {
	Version  int                      `json:"version"`
	Metadata BotConfigVersionMetadata `json:"metadata"`
}

// BotInfo is the aggregated owner-facing view of one bot.
type BotInfo struct {
	BotID              string                `json:"bot_id"`
	DisplayName        string                `json:"display_name"`
	RunningVersion     *int                  `json:"running_version"`
	RunningVersionInfo *BotVersionInfo       `json:"running_version_info"`
	LastVersions       []BotVersionInfo      `json:"last_versions"`
	LastEvents         []BotEvent            `json:"last_events"`
	FormsWithResponses []forms.FormInfoBasic `json:"forms_with_responses"`
	LastErrors         []errlog.BotError     `json:"last_errors"`
	AdminChatIDs       []int64               `json:"admin_chat_ids"`
	AlertChatID        *string               `json:"alert_chat_id"`
}

// Store is the versioned config store plus event log and running state.
type Store struct {
	configs         *typed.Versioned[flow.BotConfig, BotConfigVersionMetadata]
	runningVersions *typed.Dict[BotVersion]
	events          *typed.List[BotEvent]
	displayNames    *typed.Dict[string]

	FormResults *forms.Store
	Errors      *errlog.Store

	clk clock.Clock
	log zerolog.Logger
}

func New(backend kv.Store, formResults *forms.Store, errors *errlog.Store, clk clock.Clock, log zerolog.Logger) *Store {
	return &Store{
		configs: typed.NewVersioned[flow.BotConfig, BotConfigVersionMetadata](typed.Options{
			Name: "config", Prefix: storePrefix, Backend: backend,
		}),
		runningVersions: typed.NewDict[BotVersion](typed.Options{
			Name: "running-version", Prefix: storePrefix, Backend: backend,
		}),
		events: typed.NewList[BotEvent](typed.Options{
			Name: "bot-events", Prefix: storePrefix, Backend: backend,
		}),
		displayNames: typed.NewDict[string](typed.Options{
			Name: "display-name", Prefix: storePrefix, Backend: backend,
		}),
		FormResults: formResults,
		Errors:      errors,
		clk:         clk,
		log:         log.With().Str("component", "store").Logger(),
	}
}

// CompositeKey joins owner and bot ids; both are '/'-free by validation.
func CompositeKey(ownerID, botID string) string {
	return ownerID + "/" + botID
}

// ParseCompositeKey is the inverse of CompositeKey.
func ParseCompositeKey(key string) (ownerID string, botID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed composite key: %q", key)
	}
	return parts[0], parts[1], nil
}

// SaveBotConfig appends a new config version and returns its number.
func (s *Store) SaveBotConfig(ctx context.Context, ownerID, botID string, cfg flow.BotConfig, meta BotConfigVersionMetadata) (int, error) {
	if meta.Timestamp == 0 {
		meta.Timestamp = float64(s.clk.Now().UnixNano()) / 1e9
	}
	return s.configs.Save(ctx, CompositeKey(ownerID, botID), cfg, meta)
}

// LoadBotConfig loads the requested version; the stub sentinel loads the
// latest version's structural stub. Nil without error when absent.
func (s *Store) LoadBotConfig(ctx context.Context, ownerID, botID string, version BotVersion) (*flow.BotConfig, error) {
	loadVersion := version.Int()
	if version.IsStub() {
		loadVersion = -1
	}
	cfg, _, ok, err := s.configs.LoadVersion(ctx, CompositeKey(ownerID, botID), loadVersion)
	if err != nil || !ok {
		return nil, err
	}
	if version.IsStub() {
		stub := cfg.Stub()
		return &stub, nil
	}
	return &cfg, nil
}

// RemoveBotConfig drops all config versions. Events, form results and
// errors are deliberately retained.
func (s *Store) RemoveBotConfig(ctx context.Context, ownerID, botID string) (bool, error) {
	return s.configs.Drop(ctx, CompositeKey(ownerID, botID))
}

func (s *Store) BotConfigVersionCount(ctx context.Context, ownerID, botID string) (int, error) {
	return s.configs.CountVersions(ctx, CompositeKey(ownerID, botID))
}

func (s *Store) IsBotExists(ctx context.Context, ownerID, botID string) (bool, error) {
	n, err := s.BotConfigVersionCount(ctx, ownerID, botID)
	return n > 0, err
}

// ListBotIDs enumerates the owner's bots from config store keys.
func (s *Store) ListBotIDs(ctx context.Context, ownerID string) ([]string, error) {
	keys, err := s.configs.FindKeys(ctx, CompositeKey(ownerID, ""))
	if err != nil {
		return nil, err
	}
	prefix := CompositeKey(ownerID, "")
	botIDs := make([]string, 0, len(keys))
	for _, k := range keys {
		botIDs = append(botIDs, strings.TrimPrefix(k, prefix))
	}
	return botIDs, nil
}

// running state

func (s *Store) SetBotRunningVersion(ctx context.Context, ownerID, botID string, version BotVersion) error {
	return s.runningVersions.SetSubkey(ctx, ownerID, botID, version)
}

func (s *Store) SetBotNotRunning(ctx context.Context, ownerID, botID string) (bool, error) {
	return s.runningVersions.RemoveSubkey(ctx, ownerID, botID)
}

func (s *Store) GetBotRunningVersion(ctx context.Context, ownerID, botID string) (BotVersion, bool, error) {
	return s.runningVersions.GetSubkey(ctx, ownerID, botID)
}

func (s *Store) IsBotRunning(ctx context.Context, ownerID, botID string) (bool, error) {
	_, ok, err := s.GetBotRunningVersion(ctx, ownerID, botID)
	return ok, err
}

// RunningBot is one persisted entry of the running-version map.
type RunningBot struct {
	OwnerID string
	BotID   string
	Version BotVersion
}

// ListRunningBots walks the whole running-version map.
func (s *Store) ListRunningBots(ctx context.Context) ([]RunningBot, error) {
	ownerIDs, err := s.runningVersions.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []RunningBot
	for _, ownerID := range ownerIDs {
		versions, err := s.runningVersions.Load(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for botID, version := range versions {
			out = append(out, RunningBot{OwnerID: ownerID, BotID: botID, Version: version})
		}
	}
	return out, nil
}

// event log

// SaveEvent appends an event, auto-filling its timestamp; it reports
// whether this was the bot's first event.
func (s *Store) SaveEvent(ctx context.Context, ownerID, botID string, event BotEvent) (bool, error) {
	if event.Timestamp == 0 {
		event.Timestamp = float64(s.clk.Now().UnixNano()) / 1e9
	}
	n, err := s.events.Push(ctx, CompositeKey(ownerID, botID), event)
	return n == 1, err
}

// LastEvents returns up to n most recent events, oldest first.
func (s *Store) LastEvents(ctx context.Context, ownerID, botID string, n int64) ([]BotEvent, error) {
	return s.events.Tail(ctx, CompositeKey(ownerID, botID), n)
}

// display names

func (s *Store) SaveBotDisplayName(ctx context.Context, ownerID, botID, displayName string) error {
	return s.displayNames.SetSubkey(ctx, ownerID, botID, displayName)
}

func (s *Store) LoadBotDisplayName(ctx context.Context, ownerID, botID string) (string, bool, error) {
	return s.displayNames.GetSubkey(ctx, ownerID, botID)
}

// LoadVersionInfo returns version metadata for the window; negative
// bounds are resolved against the version count, endVersion -1 meaning
// "latest".
func (s *Store) LoadVersionInfo(ctx context.Context, ownerID, botID string, startVersion, endVersion int) ([]BotVersionInfo, error) {
	if startVersion < 0 {
		total, err := s.BotConfigVersionCount(ctx, ownerID, botID)
		if err != nil {
			return nil, err
		}
		startVersion = total + startVersion
		if startVersion < 0 {
			startVersion = 0
		}
	}
	infos, err := s.configs.LoadVersionInfos(ctx, CompositeKey(ownerID, botID), startVersion, endVersion)
	if err != nil {
		return nil, err
	}
	out := make([]BotVersionInfo, len(infos))
	for i, info := range infos {
		out[i] = BotVersionInfo{Version: info.Version, Metadata: info.Meta}
	}
	return out, nil
}

const (
	infoLastEventsDetailed = 5
	infoLastEventsBrief    = 1
	infoLastVersions       = 4
	infoLastErrors         = 3
)

// LoadBotInfo aggregates the bot's stored state into one view; nil when
// the bot has no saved config. The detailed variant adds forms, errors
// and admin chat ids.
func (s *Store) LoadBotInfo(ctx context.Context, ownerID, botID string, detailed bool) (*BotInfo, error) {
	versionCount, err := s.BotConfigVersionCount(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	if versionCount == 0 {
		return nil, nil
	}

	var (
		runningVersion     *int
		runningVersionInfo *BotVersionInfo
	)
	if v, running, err := s.GetBotRunningVersion(ctx, ownerID, botID); err != nil {
		return nil, err
	} else if running && !v.IsStub() {
		n := v.Int()
		runningVersion = &n
		infos, err := s.LoadVersionInfo(ctx, ownerID, botID, n, n)
		if err != nil {
			return nil, err
		}
		if len(infos) == 1 {
			runningVersionInfo = &infos[0]
		} else {
			s.log.Error().Str("owner_id", ownerID).Str("bot_id", botID).Int("version", n).
				Msg("running version has no stored version info")
		}
	}

	// window the version list around the running version (or the latest
	// one when stopped): the anchor plus up to three ancestors
	maxVersion := versionCount - 1
	if runningVersion != nil {
		maxVersion = *runningVersion
	}
	minVersion := maxVersion - (infoLastVersions - 1)
	if minVersion < 0 {
		minVersion = 0
	}
	lastVersions, err := s.LoadVersionInfo(ctx, ownerID, botID, minVersion, maxVersion)
	if err != nil {
		return nil, err
	}

	eventCount := int64(infoLastEventsBrief)
	if detailed {
		eventCount = infoLastEventsDetailed
	}
	lastEvents, err := s.LastEvents(ctx, ownerID, botID, eventCount)
	if err != nil {
		return nil, err
	}

	displayName, ok, err := s.LoadBotDisplayName(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	if !ok || displayName == "" {
		displayName = botID
	}

	info := &BotInfo{
		BotID:              botID,
		DisplayName:        displayName,
		RunningVersion:     runningVersion,
		RunningVersionInfo: runningVersionInfo,
		LastVersions:       lastVersions,
		LastEvents:         lastEvents,
		FormsWithResponses: []forms.FormInfoBasic{},
		LastErrors:         []errlog.BotError{},
		AdminChatIDs:       []int64{},
	}
	if alertChatID, ok, err := s.Errors.LoadAlertChatID(ctx, ownerID, botID); err != nil {
		return nil, err
	} else if ok {
		info.AlertChatID = &alertChatID
	}
	if !detailed {
		return info, nil
	}

	formInfos, err := s.FormResults.ListForms(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	info.FormsWithResponses = formInfos

	lastErrors, err := s.Errors.LoadErrors(ctx, ownerID, botID, 0, infoLastErrors)
	if err != nil {
		return nil, err
	}
	info.LastErrors = lastErrors

	loadVersion := LatestVersion()
	if runningVersion != nil {
		loadVersion = NumericVersion(*runningVersion)
	}
	cfg, err := s.LoadBotConfig(ctx, ownerID, botID, loadVersion)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.UserFlowConfig != nil {
		for _, bc := range cfg.UserFlowConfig.Blocks {
			if bc.HumanOperator != nil {
				info.AdminChatIDs = append(info.AdminChatIDs, bc.HumanOperator.FeedbackConfig.AdminChatID)
			}
			if bc.Form != nil {
				if export := bc.Form.ResultsExport.ToChat; export != nil && !export.ViaFeedbackHandler {
					info.AdminChatIDs = append(info.AdminChatIDs, export.ChatID)
				}
			}
		}
	}
	return info, nil
}
