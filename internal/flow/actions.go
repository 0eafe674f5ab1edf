package flow

import (
	"strconv"
	"strings"

	"twingate/internal/domain"
)

// Action is the unique part of an inline button's callback data
type Action string

const (
	ActionLanguage         Action = "lang"
	ActionLanguageSettings Action = "language_settings"
	ActionFlow             Action = "flow"
	ActionStartLevel       Action = "start_level"
	ActionCheckLevel       Action = "check_level"
	ActionLevelLocked      Action = "level_locked"
	ActionLevelDone        Action = "level_done"
	ActionMintSBT          Action = "mint_sbt"
	ActionCheckMint        Action = "check_mint"
	ActionSBT              Action = "sbt"
)

// Payloads of ActionFlow
const (
	FlowMain      = "main"
	FlowVerify    = "verify"
	FlowLevels    = "levels"
	FlowDashboard = "dashboard"
	FlowRetry     = "retry"
)

// CommandFor maps an ActionFlow payload to the router command it stands for
func CommandFor(payload string) Command {
	switch payload {
	case FlowVerify:
		return CommandVerify
	case FlowLevels:
		return CommandLevels
	case FlowDashboard:
		return CommandDashboard
	default:
		return CommandStart
	}
}

// ParseLevel reads a level number from a button payload
func ParseLevel(payload string) (int, bool) {
	level, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || level < domain.LevelBasic || level > domain.MaxLevel {
		return 0, false
	}
	return level, true
}
