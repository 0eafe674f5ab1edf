package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"twingate/internal/domain"
	"twingate/internal/repository"
	"twingate/internal/session"

	"go.uber.org/zap"
)

const (
	// VerifyDeepLinkPrefix starts the /start payload of a group welcome link
	VerifyDeepLinkPrefix = "verify_"
	groupSourcePrefix    = "group:"
	maxSourceLength      = 64
)

// GroupService handles group registration and referral tracking
type GroupService struct {
	repo   repository.GroupRepository
	store  session.Store
	logger *zap.Logger
}

// NewGroupService creates a new group service
func NewGroupService(repo repository.GroupRepository, store session.Store, logger *zap.Logger) *GroupService {
	return &GroupService{
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

// Welcome registers the group on first contact and counts the interaction
func (s *GroupService) Welcome(ctx context.Context, chat domain.Group, userID int64) (*domain.Group, error) {
	chat.RegisteredBy = userID
	g, err := s.repo.Register(ctx, &chat)
	if err != nil {
		return nil, err
	}
	if g.Interactions == 1 {
		s.logger.Info("Group registered",
			zap.Int64("chat_id", g.ChatID),
			zap.String("title", g.Title),
			zap.Int64("registered_by", userID))
	}
	return g, nil
}

// TrackSource records where the user came from, as given in the /start payload.
// It returns the stored source, empty when there was nothing to record.
func (s *GroupService) TrackSource(ctx context.Context, userID int64, payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", nil
	}

	source := payload
	chatID, fromGroup := ParseVerifyPayload(payload)
	if fromGroup {
		source = groupSourcePrefix + strconv.FormatInt(chatID, 10)
	}
	source = truncate(source, maxSourceLength)

	if _, err := s.store.Upsert(ctx, userID, domain.Patch{Source: &source}); err != nil {
		return "", err
	}

	if fromGroup {
		err := s.repo.IncrementReferrals(ctx, chatID)
		if errors.Is(err, domain.ErrGroupNotFound) {
			s.logger.Warn("Referral from unknown group", zap.Int64("chat_id", chatID))
		} else if err != nil {
			// referral counts are best effort
			s.logger.Error("Failed to count group referral", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}

	s.logger.Info("User source tracked", zap.Int64("user_id", userID), zap.String("source", source))
	return source, nil
}

// Stats returns the registry entry of a group
func (s *GroupService) Stats(ctx context.Context, chatID int64) (*domain.Group, error) {
	return s.repo.Get(ctx, chatID)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ParseVerifyPayload extracts the group chat id from a verify_<chatID> payload
func ParseVerifyPayload(payload string) (int64, bool) {
	if !strings.HasPrefix(payload, VerifyDeepLinkPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, VerifyDeepLinkPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// VerifyDeepLink builds the private-chat link a group welcome points to
func VerifyDeepLink(botUsername string, chatID int64) string {
	return "https://t.me/" + botUsername + "?start=" + VerifyDeepLinkPrefix + strconv.FormatInt(chatID, 10)
}
