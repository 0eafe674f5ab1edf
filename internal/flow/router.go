// Package flow picks the screen a user should see next and renders it.
//
// Route is a pure function of the session, its status, the chat type and the
// command. The checks run in a fixed order: group chats always get the
// private-chat redirect, then a missing language always gets the picker, and
// only then does the command matter.
package flow

import "twingate/internal/domain"

// Path names a UI state
type Path string

const (
	PathGroupWelcome          Path = "group_welcome"
	PathLanguageSelection     Path = "language_selection"
	PathVerificationStart     Path = "verification_start"
	PathVerificationDashboard Path = "verification_dashboard"
	PathMainDashboard         Path = "main_dashboard"
)

// Paths lists every flow path
var Paths = []Path{
	PathGroupWelcome,
	PathLanguageSelection,
	PathVerificationStart,
	PathVerificationDashboard,
	PathMainDashboard,
}

// Command is the user intent an update carries into the router
type Command string

const (
	CommandNone      Command = ""
	CommandStart     Command = "start"
	CommandVerify    Command = "verify"
	CommandStatus    Command = "status"
	CommandDashboard Command = "dashboard"
	// CommandLevels opens the level list even after some levels are done
	CommandLevels    Command = "levels"
)

// Route selects the flow path for an interaction
func Route(s *domain.Session, status domain.VerificationStatus, chat domain.ChatType, cmd Command) Path {
	if chat.IsGroup() {
		return PathGroupWelcome
	}
	if s == nil || s.Language == "" {
		return PathLanguageSelection
	}

	switch cmd {
	case CommandVerify:
		if status.VerificationLevel == 0 {
			return PathVerificationStart
		}
		return PathVerificationDashboard
	case CommandStatus, CommandDashboard:
		return PathVerificationDashboard
	case CommandLevels:
		return PathVerificationStart
	default:
		if status.VerificationLevel == 0 {
			return PathVerificationStart
		}
		return PathMainDashboard
	}
}
