package handler

import (
	"context"
	"fmt"

	"twingate/internal/domain"
	"twingate/internal/flow"
	"twingate/internal/service"

	"go.uber.org/zap"
)

// cmdStart handles /start, including the verify_<chatID> deep link from group welcomes
func (h *Handler) cmdStart(ctx context.Context, u update) (outcome, error) {
	if u.chat.IsGroup() {
		return h.groupWelcome(ctx, u)
	}

	if u.payload != "" {
		if _, err := h.groups.TrackSource(ctx, u.userID, u.payload); err != nil {
			h.logger.Warn("Failed to track user source",
				zap.Int64("user_id", u.userID),
				zap.String("payload", u.payload),
				zap.Error(err),
			)
		}
	}
	return h.routeScreen(ctx, u, flow.CommandStart)
}

func (h *Handler) routeCommand(cmd flow.Command) commandFunc {
	return func(ctx context.Context, u update) (outcome, error) {
		return h.routeScreen(ctx, u, cmd)
	}
}

// cmdSBT shows the SBT overview
func (h *Handler) cmdSBT(ctx context.Context, u update) (outcome, error) {
	return h.withLanguage(ctx, u, func(_ *domain.Session, v flow.View) flow.Screen {
		return h.renderer.SBTOverview(v)
	})
}

// cmdLanguage opens the language picker
func (h *Handler) cmdLanguage(ctx context.Context, u update) (outcome, error) {
	if u.chat.IsGroup() {
		return h.groupWelcome(ctx, u)
	}
	s, err := h.load(ctx, u)
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: h.renderer.LanguagePicker(h.view(u, s))}, nil
}

// cmdHelp lists the commands
func (h *Handler) cmdHelp(ctx context.Context, u update) (outcome, error) {
	if u.chat.IsGroup() {
		return h.groupWelcome(ctx, u)
	}
	s, err := h.load(ctx, u)
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: h.renderer.Help(h.view(u, s))}, nil
}

// cmdReset deletes the caller's session
func (h *Handler) cmdReset(ctx context.Context, u update) (outcome, error) {
	if u.chat.IsGroup() {
		return outcome{}, nil
	}
	v := h.baseView(ctx, u)
	if _, err := h.progress.Reset(ctx, u.userID); err != nil {
		return outcome{}, err
	}

	v.Status = domain.Project(nil)
	v.Mint = nil
	return outcome{screen: h.renderer.Notice(v, "reset.done")}, nil
}

// groupWelcome registers the group and points the user at a private chat
func (h *Handler) groupWelcome(ctx context.Context, u update) (outcome, error) {
	if _, err := h.groups.Welcome(ctx, u.group, u.userID); err != nil {
		h.logger.Error("Failed to register group",
			zap.Int64("chat_id", u.group.ChatID),
			zap.Int64("user_id", u.userID),
			zap.Error(err),
		)
	}

	v := h.view(u, nil)
	v.ChatTitle = u.group.Title
	v.DeepLink = service.VerifyDeepLink(h.botUsername, u.group.ChatID)

	path := flow.Route(nil, v.Status, u.chat, flow.CommandStart)
	screen, err := h.renderer.Render(path, v)
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: screen}, nil
}

// routeScreen loads the session and renders whatever the router picks for cmd
func (h *Handler) routeScreen(ctx context.Context, u update, cmd flow.Command) (outcome, error) {
	if u.chat.IsGroup() {
		if cmd == flow.CommandNone {
			return outcome{}, nil
		}
		return h.groupWelcome(ctx, u)
	}
	s, err := h.load(ctx, u)
	if err != nil {
		return outcome{}, err
	}
	return h.render(u, s, cmd, "")
}

func (h *Handler) render(u update, s *domain.Session, cmd flow.Command, notice string) (outcome, error) {
	v := h.view(u, s)
	v.Notice = notice

	path := flow.Route(s, v.Status, u.chat, cmd)
	screen, err := h.renderer.Render(path, v)
	if err != nil {
		return outcome{}, err
	}

	h.logger.Debug("Routed update",
		zap.Int64("user_id", u.userID),
		zap.String("command", string(cmd)),
		zap.String("path", string(path)),
	)
	return outcome{screen: screen}, nil
}

// withLanguage renders build for users who picked a language and the picker for everyone else
func (h *Handler) withLanguage(ctx context.Context, u update, build func(s *domain.Session, v flow.View) flow.Screen) (outcome, error) {
	if u.chat.IsGroup() {
		return h.groupWelcome(ctx, u)
	}
	s, err := h.load(ctx, u)
	if err != nil {
		return outcome{}, err
	}
	v := h.view(u, s)
	if s.Language == "" {
		return outcome{screen: h.renderer.LanguagePicker(v)}, nil
	}
	return outcome{screen: build(s, v)}, nil
}

// load refreshes the user's session and checks it before anything is rendered
func (h *Handler) load(ctx context.Context, u update) (*domain.Session, error) {
	var patch domain.Patch
	if u.username != "" {
		patch.Username = &u.username
	}
	if u.firstName != "" {
		patch.FirstName = &u.firstName
	}

	s, err := h.store.Upsert(ctx, u.userID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (h *Handler) view(u update, s *domain.Session) flow.View {
	v := flow.View{
		FirstName:        u.firstName,
		Status:           domain.Project(s),
		DetectedLanguage: h.tr.Detect(u.langCode),
		SupportURL:       h.supportURL,
	}
	if s != nil {
		v.Language = s.Language
		v.Mint = s.Mint
		if v.FirstName == "" {
			v.FirstName = s.FirstName
		}
	}
	return v
}

// baseView reads the session best effort, for screens that only need its language
func (h *Handler) baseView(ctx context.Context, u update) flow.View {
	s, err := h.store.Get(ctx, u.userID)
	if err != nil {
		h.logger.Warn("Failed to read session", zap.Int64("user_id", u.userID), zap.Error(err))
		s = nil
	}
	return h.view(u, s)
}
