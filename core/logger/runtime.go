package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	keyLogger ctxKey = iota
	keyRID
	keyActivity
	keyUser
	keyConversation
	keyHandler
	keyDialog
)

func withValue(ctx context.Context, key ctxKey, val any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, val)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// WithLogger makes log the logger used for events logged under ctx.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if log == nil {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withValue(ctx, keyLogger, log)
}

// FromContext returns the logger stored in ctx, falling back to L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(keyLogger).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withValue(ctx, keyRID, rid)
}

// RIDFrom returns the correlation id, if any.
func RIDFrom(ctx context.Context) string { return stringFrom(ctx, keyRID) }

// WithTurnMeta attaches the identifiers of the activity being processed.
func WithTurnMeta(ctx context.Context, activityID, userID, conversationID string) context.Context {
	ctx = withValue(ctx, keyActivity, activityID)
	ctx = withValue(ctx, keyUser, userID)
	return withValue(ctx, keyConversation, conversationID)
}

func ActivityIDFrom(ctx context.Context) string { return stringFrom(ctx, keyActivity) }
func UserIDFrom(ctx context.Context) string { return stringFrom(ctx, keyUser) }
func ConversationIDFrom(ctx context.Context) string { return stringFrom(ctx, keyConversation) }

// WithHandler names the transport handler serving the turn. Empty names are ignored.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" && ctx != nil {
		return ctx
	}
	return withValue(ctx, keyHandler, handler)
}

func HandlerFrom(ctx context.Context) string { return stringFrom(ctx, keyHandler) }

// WithDialog records the dialog currently executing a step. Empty ids are ignored.
func WithDialog(ctx context.Context, dialogID string) context.Context {
	if dialogID == "" && ctx != nil {
		return ctx
	}
	return withValue(ctx, keyDialog, dialogID)
}

func DialogFrom(ctx context.Context) string { return stringFrom(ctx, keyDialog) }

// Sanitize drops control and format runes except newline and tab, so user
// supplied text cannot forge log lines.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit sanitizes s and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	clean := []rune(Sanitize(s))
	if len(clean) > max {
		clean = clean[:max]
	}
	return string(clean)
}

// BuildRID joins the turn identifiers as activity:conversation:user.
func BuildRID(activityID, conversationID, userID string) string {
	return activityID + ":" + conversationID + ":" + userID
}

// CompactRID rewrites the numeric parts of a three-part RID in base 36,
// joined by dots. Anything that is not a well-formed RID is returned as is.
func CompactRID(rid string) string {
	parts := strings.Split(strings.TrimSpace(rid), ":")
	if len(parts) != 3 {
		return rid
	}
	for i, p := range parts {
		if p == "" {
			return rid
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = strconv.FormatInt(n, 36)
		}
	}
	return strings.Join(parts, ".")
}
