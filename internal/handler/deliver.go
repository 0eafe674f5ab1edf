package handler

import (
	"context"
	"errors"
	"strings"

	"twingate/internal/domain"
	"twingate/internal/flow"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// outcome is what an update produces: a screen, a callback alert, or nothing
type outcome struct {
	screen flow.Screen
	alert  string
}

// run executes fn and delivers its outcome. Errors end in a corrective notice or the fallback screen.
func (h *Handler) run(c tele.Context, u update, fn func(ctx context.Context) (outcome, error)) error {
	ctx, cancel := h.context()
	defer cancel()

	out, err := fn(ctx)
	if err != nil {
		key, ok := noticeFor(err)
		if !ok {
			return h.fail(ctx, c, u, err)
		}
		h.logger.Info("User action rejected", zap.Int64("user_id", u.userID), zap.Error(err))
		out = outcome{screen: h.renderer.Notice(h.baseView(ctx, u), key)}
	}
	return h.deliver(c, u, out)
}

// noticeFor maps user input errors to the message that corrects them
func noticeFor(err error) (string, bool) {
	var order *domain.OutOfOrderError
	switch {
	case errors.As(err, &order):
		if order.Level < order.Current {
			return "verification.already_completed", true
		}
		return "verification.out_of_order", true
	case errors.Is(err, domain.ErrNoActiveVerification):
		return "verification.no_active", true
	case errors.Is(err, domain.ErrNotEligible):
		return "sbt.not_eligible", true
	case errors.Is(err, domain.ErrAlreadyMinted):
		return "sbt.already_minted", true
	case errors.Is(err, domain.ErrNoMintRequest):
		return "sbt.no_request", true
	case errors.Is(err, domain.ErrMintInFlight):
		return "sbt.in_flight", true
	case errors.Is(err, domain.ErrUnsupportedLanguage):
		return "language.unsupported", true
	}
	return "", false
}

// fail logs err and shows the generic try-again screen
func (h *Handler) fail(ctx context.Context, c tele.Context, u update, err error) error {
	if errors.Is(err, domain.ErrCorruptSession) {
		h.logger.Error("Corrupt session", zap.Int64("user_id", u.userID), zap.Error(err))
	} else {
		h.logger.Error("Failed to handle update", zap.Int64("user_id", u.userID), zap.Error(err))
	}
	return h.deliver(c, u, outcome{screen: h.renderer.Error(h.baseView(ctx, u))})
}

// deliver edits the message behind a callback and sends a new one for commands
func (h *Handler) deliver(c tele.Context, u update, out outcome) error {
	if c.Callback() == nil {
		switch {
		case out.screen.Text != "":
			return c.Send(out.screen.Text, toMarkup(out.screen))
		case out.alert != "":
			return c.Send(out.alert)
		}
		return nil
	}

	if out.screen.Text == "" {
		if out.alert == "" {
			return c.Respond()
		}
		return c.Respond(&tele.CallbackResponse{Text: out.alert, ShowAlert: true})
	}

	markup := toMarkup(out.screen)
	if err := c.Edit(out.screen.Text, markup); err != nil {
		if handleErr := h.handleEditError(err, c, u.userID); handleErr == nil {
			return nil // Message was already modified, just acknowledged
		}
		return c.Send(out.screen.Text, markup)
	}
	return c.Respond()
}

// toMarkup builds the inline keyboard of a screen
func toMarkup(s flow.Screen) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(s.Keyboard))
	for _, line := range s.Keyboard {
		row := make(tele.Row, 0, len(line))
		for _, b := range line {
			switch {
			case b.URL != "":
				row = append(row, markup.URL(b.Text, b.URL))
			case b.Payload != "":
				row = append(row, markup.Data(b.Text, string(b.Action), b.Payload))
			default:
				row = append(row, markup.Data(b.Text, string(b.Action)))
			}
		}
		rows = append(rows, row)
	}
	markup.Inline(rows...)
	return markup
}

// handleEditError handles errors from c.Edit() - if message is not modified, just acknowledge callback
// Otherwise, acknowledge callback and return error so caller can send new message
func (h *Handler) handleEditError(err error, c tele.Context, userID int64) error {
	if err == nil {
		return nil
	}

	// A double tap edits the same message twice
	if strings.Contains(err.Error(), "message is not modified") {
		h.logger.Debug("Message already modified by another callback, acknowledging",
			zap.Int64("user_id", userID),
			zap.String("callback_id", c.Callback().ID),
		)
		c.Respond()
		return nil
	}

	h.logger.Warn("Failed to edit message, sending new",
		zap.Error(err),
		zap.Int64("user_id", userID),
		zap.String("callback_id", c.Callback().ID),
	)
	// Always acknowledge callback before sending new message
	if ackErr := c.Respond(); ackErr != nil {
		h.logger.Warn("Failed to acknowledge callback", zap.Error(ackErr))
	}
	return err
}
