package middleware

import (
	"fmt"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Recover turns a handler panic into a logged error and the onPanic reply
func Recover(logger *zap.Logger, onPanic tele.HandlerFunc) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				var userID int64
				if u := c.Sender(); u != nil {
					userID = u.ID
				}
				logger.Error("Panic in update handler",
					zap.Int64("user_id", userID),
					zap.String("panic", fmt.Sprint(r)),
					zap.Stack("stack"))

				err = nil
				if onPanic != nil {
					if replyErr := onPanic(c); replyErr != nil {
						logger.Error("Failed to send panic fallback", zap.Error(replyErr))
					}
				}
			}()
			return next(c)
		}
	}
}
