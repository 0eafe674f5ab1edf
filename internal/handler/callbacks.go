package handler

import (
	"context"
	"strings"
	"unicode"

	"twingate/internal/backend"
	"twingate/internal/domain"
	"twingate/internal/flow"
	"twingate/internal/i18n"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// cleanCallbackData removes all non-printable characters from callback data
func cleanCallbackData(data string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(data))
}

// parseCallback splits "\funique|payload" into its action and payload
func parseCallback(data string) (flow.Action, string) {
	unique, payload, _ := strings.Cut(cleanCallbackData(data), "|")
	return flow.Action(unique), payload
}

// handleCallback handles ALL callback queries
func (h *Handler) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		h.logger.Warn("handleCallback: callback is nil")
		return nil
	}

	action, payload := parseCallback(callback.Data)
	u := newUpdate(c)
	h.logger.Info("handleCallback: Processing callback",
		zap.String("action", string(action)),
		zap.String("payload", payload),
		zap.String("id", callback.ID),
		zap.Int64("user_id", u.userID),
	)

	fn, ok := h.callbacks[action]
	if !ok {
		// If it's not handled, acknowledge it anyway
		h.logger.Warn("Unhandled callback in handleCallback",
			zap.String("data", callback.Data),
			zap.Int64("user_id", u.userID),
		)
		return c.Respond()
	}

	return h.run(c, u, func(ctx context.Context) (outcome, error) {
		return fn(ctx, u, payload)
	})
}

// cbLanguage stores the picked language and continues to the routed screen
func (h *Handler) cbLanguage(ctx context.Context, u update, code string) (outcome, error) {
	if !h.tr.IsSupported(code) {
		return outcome{}, domain.ErrUnsupportedLanguage
	}

	patch := domain.Patch{Language: &code}
	if u.username != "" {
		patch.Username = &u.username
	}
	if u.firstName != "" {
		patch.FirstName = &u.firstName
	}
	s, err := h.store.Upsert(ctx, u.userID, patch)
	if err != nil {
		return outcome{}, err
	}
	if err := s.Validate(); err != nil {
		return outcome{}, err
	}

	h.logger.Info("Language selected", zap.Int64("user_id", u.userID), zap.String("language", code))
	notice := h.tr.T("language.updated", code, map[string]string{"language": i18n.Name(code)})
	return h.render(u, s, flow.CommandStart, notice)
}

func (h *Handler) cbLanguageSettings(ctx context.Context, u update, _ string) (outcome, error) {
	return h.cmdLanguage(ctx, u)
}

// cbFlow re-enters the router, e.g. from main menu or retry buttons
func (h *Handler) cbFlow(ctx context.Context, u update, payload string) (outcome, error) {
	return h.routeScreen(ctx, u, flow.CommandFor(payload))
}

// cbStartLevel starts a level verification and shows its link
func (h *Handler) cbStartLevel(ctx context.Context, u update, payload string) (outcome, error) {
	level, ok := flow.ParseLevel(payload)
	if !ok {
		h.logger.Warn("Invalid level in callback", zap.Int64("user_id", u.userID), zap.String("payload", payload))
		return outcome{}, nil
	}

	s, err := h.progress.StartVerification(ctx, u.user(), level)
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: h.renderer.LevelStarted(h.view(u, s), *s.CurrentVerification)}, nil
}

// cbCheckLevel polls a running verification
func (h *Handler) cbCheckLevel(ctx context.Context, u update, payload string) (outcome, error) {
	level, ok := flow.ParseLevel(payload)
	if !ok {
		h.logger.Warn("Invalid level in callback", zap.Int64("user_id", u.userID), zap.String("payload", payload))
		return outcome{}, nil
	}

	res, err := h.progress.CheckVerification(ctx, u.userID, level)
	if err != nil {
		return outcome{}, err
	}

	v := h.view(u, res.Session)
	switch {
	case res.AlreadyDone, res.Status == backend.StatusCompleted:
		return outcome{screen: h.renderer.LevelCompleted(v, level)}, nil
	case res.Status == backend.StatusFailed:
		return outcome{screen: h.renderer.LevelFailed(v, level)}, nil
	default:
		return outcome{screen: h.renderer.LevelPending(v, level)}, nil
	}
}

func (h *Handler) cbLevelLocked(ctx context.Context, u update, _ string) (outcome, error) {
	return h.alert(ctx, u, "verification.locked_alert")
}

func (h *Handler) cbLevelDone(ctx context.Context, u update, _ string) (outcome, error) {
	return h.alert(ctx, u, "verification.already_completed")
}

// cbMintSBT asks the backend to mint the user's SBT
func (h *Handler) cbMintSBT(ctx context.Context, u update, _ string) (outcome, error) {
	m, err := h.sbt.RequestMint(ctx, u.user())
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: h.renderer.MintRequested(h.baseView(ctx, u), m)}, nil
}

// cbCheckMint polls the user's mint request
func (h *Handler) cbCheckMint(ctx context.Context, u update, _ string) (outcome, error) {
	m, err := h.sbt.CheckMint(ctx, u.userID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{screen: h.renderer.MintStatus(h.baseView(ctx, u), m)}, nil
}

func (h *Handler) cbSBT(ctx context.Context, u update, _ string) (outcome, error) {
	return h.cmdSBT(ctx, u)
}

// alert answers with a short localized popup instead of a new screen
func (h *Handler) alert(ctx context.Context, u update, key string) (outcome, error) {
	v := h.baseView(ctx, u)
	lang := v.Language
	if lang == "" {
		lang = v.DetectedLanguage
	}
	return outcome{alert: h.tr.T(key, lang, nil)}, nil
}
