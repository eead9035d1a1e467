package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/qnabot/core/logger"
	tghelpers "github.com/m3rciful/qnabot/core/telegram/helpers"

	lru "github.com/hashicorp/golang-lru"
	tele "gopkg.in/telebot.v4"
)

const defaultTrackedUsers = 10000

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds (see UpdateKind) that bypass the limit.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// MaxTracked caps how many users' last-seen times are remembered.
	MaxTracked int
	now        func() time.Time
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between updates from the same user. Limited updates are dropped.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = defaultTrackedUsers
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	// lru.New only fails for a non-positive size.
	lastSeen, _ := lru.New(opts.MaxTracked)
	var mu sync.Mutex

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := UpdateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			now := opts.now()
			mu.Lock()
			if v, ok := lastSeen.Get(user.ID); ok && now.Sub(v.(time.Time)) < opts.Interval {
				mu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
					slog.String("update_kind", kind),
					slog.Duration("interval_ms", opts.Interval),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen.Add(user.ID, now)
			mu.Unlock()
			return next(c)
		}
	}
}
