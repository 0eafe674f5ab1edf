package domain

import "time"

// ChatType is the Telegram chat kind an update arrived from
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a group or supergroup
func (t ChatType) IsGroup() bool {
	return t == ChatGroup || t == ChatSupergroup
}

// Group is a Telegram group the bot has been used in
type Group struct {
	ChatID       int64
	Title        string
	Username     string
	Type         ChatType
	RegisteredBy int64
	Interactions int
	Referrals    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
