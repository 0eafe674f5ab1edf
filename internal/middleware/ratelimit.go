package middleware

import (
	"context"
	"strconv"

	"twingate/internal/ratelimit"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// RateLimitOptions configures the rate limit middleware
type RateLimitOptions struct {
	Limiter   ratelimit.Limiter
	Logger    *zap.Logger
	OnLimited tele.HandlerFunc
}

// RateLimit drops updates from users over their fixed-window budget.
// Limiter errors let the update through.
func RateLimit(opts RateLimitOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Limiter == nil {
				return next(c)
			}

			ok, err := opts.Limiter.Allow(context.Background(), "user:"+strconv.FormatInt(user.ID, 10))
			if err != nil {
				opts.Logger.Warn("Rate limiter error, failing open",
					zap.Int64("user_id", user.ID),
					zap.Error(err))
				return next(c)
			}
			if ok {
				return next(c)
			}

			fields := []zap.Field{zap.Int64("user_id", user.ID)}
			if chat := c.Chat(); chat != nil {
				fields = append(fields, zap.Int64("chat_id", chat.ID))
			}
			opts.Logger.Warn("Rate limit exceeded", fields...)

			if opts.OnLimited != nil {
				return opts.OnLimited(c)
			}
			return nil
		}
	}
}
