package helpers

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/m3rciful/qnabot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

type baseHolder struct{ ctx context.Context }

var baseContext atomic.Pointer[baseHolder]

// SetBaseContext sets the parent of every per-update context, so that
// cancelling it (on shutdown) aborts turns in flight. nil resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		baseContext.Store(nil)
		return
	}
	baseContext.Store(&baseHolder{ctx: ctx})
}

func base() context.Context {
	if h := baseContext.Load(); h != nil {
		return h.ctx
	}
	return context.Background()
}

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom telegram context if previously stored by middleware.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// IDs returns the update, sender and chat ids of c as strings; absent ids are empty.
func IDs(c tele.Context) (updateID, userID, chatID string) {
	updateID = strconv.Itoa(c.Update().ID)
	if u := c.Sender(); u != nil {
		userID = strconv.FormatInt(u.ID, 10)
	}
	if ch := c.Chat(); ch != nil {
		chatID = strconv.FormatInt(ch.ID, 10)
	}
	return updateID, userID, chatID
}

// BuildContext constructs a context.Context from tele.Context,
// enriching it with RID and activity/user/conversation metadata for consistent logging.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	updateID, userID, chatID := IDs(c)
	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}

	ctx := logger.WithRID(base(), rid)
	ctx = logger.WithTurnMeta(ctx, updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler enriches stored context with handler metadata for downstream logs.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
