package handler

import (
	"context"
	"errors"
	"fmt"

	"twingate/internal/domain"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// cmdGroupStats shows the group's registry counters to its admins
func (h *Handler) cmdGroupStats(ctx context.Context, u update) (outcome, error) {
	v := h.baseView(ctx, u)
	if !u.chat.IsGroup() {
		return outcome{screen: h.renderer.Notice(v, "group.stats_groups_only")}, nil
	}

	admin, err := h.isAdmin(u.group.ChatID, u.userID)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to check chat admin: %w", err)
	}
	if !admin {
		h.logger.Info("Group stats denied",
			zap.Int64("chat_id", u.group.ChatID),
			zap.Int64("user_id", u.userID),
		)
		return outcome{screen: h.renderer.GroupNotice(v, "group.stats_admins_only")}, nil
	}

	g, err := h.groups.Stats(ctx, u.group.ChatID)
	if errors.Is(err, domain.ErrGroupNotFound) {
		return outcome{screen: h.renderer.GroupNotice(v, "group.not_registered")}, nil
	}
	if err != nil {
		return outcome{}, err
	}

	v.ChatTitle = u.group.Title
	return outcome{screen: h.renderer.GroupStats(v, g)}, nil
}

// chatAdmin asks Telegram whether the user administers the chat
func (h *Handler) chatAdmin(chatID, userID int64) (bool, error) {
	member, err := h.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator, nil
}
