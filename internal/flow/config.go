package flow

import (
	"errors"
	"fmt"
)

// BotConfig is the versioned root document a bot owner authors.
type BotConfig struct {
	TokenSecretName string          `json:"token_secret_name"`
	DisplayName     *string         `json:"display_name,omitempty"`
	UserFlowConfig  *UserFlowConfig `json:"user_flow_config,omitempty"`
}

// Stub returns a minimized variant with the flow emptied; used to run a
// bot that must stay reachable (e.g. chat discovery) without any of its
// configured behavior.
func (c BotConfig) Stub() BotConfig {
	return BotConfig{
		TokenSecretName: c.TokenSecretName,
		DisplayName:     c.DisplayName,
		UserFlowConfig:  &UserFlowConfig{},
	}
}

// NodeDisplayCoords is editor canvas placement, opaque to the runtime.
type NodeDisplayCoords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type UserFlowConfig struct {
	Entrypoints       []EntryPointConfig           `json:"entrypoints"`
	Blocks            []BlockConfig                `json:"blocks"`
	NodeDisplayCoords map[string]NodeDisplayCoords `json:"node_display_coords,omitempty"`
}

// EntryPointConfig is a tagged union: exactly one member may be set.
type EntryPointConfig struct {
	Command  *CommandEntryPoint    `json:"command,omitempty"`
	Regex    *RegexMatchEntryPoint `json:"regex,omitempty"`
	CatchAll *CatchAllEntryPoint   `json:"catch_all,omitempty"`
}

func (c EntryPointConfig) concrete() (EntryPoint, error) {
	var set []EntryPoint
	if c.Command != nil {
		set = append(set, c.Command)
	}
	if c.Regex != nil {
		set = append(set, c.Regex)
	}
	if c.CatchAll != nil {
		set = append(set, c.CatchAll)
	}
	if len(set) != 1 {
		return nil, fmt.Errorf("entrypoint config must have exactly one member set, got %d", len(set))
	}
	return set[0], nil
}

// BlockConfig is a tagged union: exactly one member may be set.
type BlockConfig struct {
	Content        *ContentBlock        `json:"content,omitempty"`
	Menu           *MenuBlock           `json:"menu,omitempty"`
	Form           *FormBlock           `json:"form,omitempty"`
	HumanOperator  *HumanOperatorBlock  `json:"human_operator,omitempty"`
	LanguageSelect *LanguageSelectBlock `json:"language_select,omitempty"`
	BotError       *BotErrorBlock       `json:"error,omitempty"`
	Message        *MessageBlock        `json:"message,omitempty"`
}

func (c BlockConfig) concrete() (Block, error) {
	var set []Block
	if c.Content != nil {
		set = append(set, c.Content)
	}
	if c.Menu != nil {
		set = append(set, c.Menu)
	}
	if c.Form != nil {
		set = append(set, c.Form)
	}
	if c.HumanOperator != nil {
		set = append(set, c.HumanOperator)
	}
	if c.LanguageSelect != nil {
		set = append(set, c.LanguageSelect)
	}
	if c.BotError != nil {
		set = append(set, c.BotError)
	}
	if c.Message != nil {
		set = append(set, c.Message)
	}
	if len(set) != 1 {
		return nil, fmt.Errorf("block config must have exactly one member set, got %d", len(set))
	}
	return set[0], nil
}

// ErrInvalidFlow wraps all flow validation failures surfaced to the owner.
var ErrInvalidFlow = errors.New("invalid user flow")

func invalidFlow(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFlow, fmt.Sprintf(format, args...))
}
