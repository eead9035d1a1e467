package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captured struct {
	mu    sync.Mutex
	lines []string
}

func (c *captured) Write(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, strings.TrimSuffix(string(line), "\n"))
	return nil
}

func (c *captured) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.lines)
	return c.lines[len(c.lines)-1]
}

func newTestLogger(format logFormat, level slog.Level) (*slog.Logger, *captured) {
	out := &captured{}
	return slog.New(newHandler(out, level, format)), out
}

func TestKVLineStartsWithKnownKeys(t *testing.T) {
	log, out := newTestLogger(formatKV, slog.LevelInfo)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithTurnMeta(ctx, "42", "7", "9")
	ctx = WithLogger(ctx, log.With("component", "tg"))

	Info(ctx, "app", "test.event", slog.String("status", "OK"), slog.String("zeta", "last"))

	tokens := strings.Split(out.last(t), " ")
	want := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "activity_id=42"}
	for i, prefix := range want {
		require.True(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, want prefix %s", i, tokens[i], prefix)
	}
	require.Equal(t, "zeta=last", tokens[len(tokens)-1])
}

func TestJSONLineIsOrderedAndValid(t *testing.T) {
	log, out := newTestLogger(formatJSON, slog.LevelInfo)
	ctx := WithLogger(context.Background(), log)

	Error(ctx, "service.test", "service.failed",
		slog.String("status", "fail"),
		slog.Any("err", errors.New("boom")),
		slog.String("err_kind", "external call"),
	)
	line := out.last(t)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	require.Equal(t, "ERROR", decoded["level"])
	require.Equal(t, "boom", decoded["err"])
	require.Equal(t, "EXTERNAL_CALL", decoded["err_kind"])

	pos := -1
	for _, key := range []string{`"ts":`, `"level":`, `"component":`, `"event":`, `"status":`, `"err":`} {
		idx := strings.Index(line, key)
		require.Greater(t, idx, pos, "%s out of order in %s", key, line)
		pos = idx
	}
}

func TestRIDIsCompacted(t *testing.T) {
	jsonLog, jsonOut := newTestLogger(formatJSON, slog.LevelInfo)
	kvLog, kvOut := newTestLogger(formatKV, slog.LevelInfo)
	ctx := WithRID(context.Background(), "12:34:56")

	Info(WithLogger(ctx, jsonLog), "app", "rid.test")
	Info(WithLogger(ctx, kvLog), "app", "rid.test")

	require.Contains(t, jsonOut.last(t), `"rid":"c.y.1k"`)
	require.Contains(t, jsonOut.last(t), `"rid_full":"12:34:56"`)
	require.Contains(t, kvOut.last(t), "rid=c.y.1k")
	require.NotContains(t, kvOut.last(t), "rid_full")
}

func TestContextMetaAndDurations(t *testing.T) {
	log, out := newTestLogger(formatKV, slog.LevelDebug)
	ctx := WithTurnMeta(context.Background(), "act-1", "u-7", "conv-9")
	ctx = WithDialog(WithHandler(ctx, "turn.message"), "mainMenuDialog")
	ctx = WithLogger(ctx, log)

	Debug(ctx, "dialog", "dialog.step",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Duration("backoff", 2*time.Second),
		slog.String("user_id", "explicit"),
	)
	line := out.last(t)
	for _, want := range []string{
		"activity_id=act-1",
		"user_id=explicit",
		"conversation_id=conv-9",
		"handler=turn.message",
		"dialog_id=mainMenuDialog",
		"duration_ms=2",
		"backoff_ms=2000",
	} {
		require.Contains(t, line, want)
	}
}

func TestLevelFiltering(t *testing.T) {
	log, out := newTestLogger(formatKV, slog.LevelInfo)
	ctx := WithLogger(context.Background(), log)

	Debug(ctx, "app", "hidden")
	require.Empty(t, out.lines)
	Warn(ctx, "app", "shown")
	require.Contains(t, out.last(t), "level=WARN")
}

func TestOutcomeAndEmptyFieldsAreNormalised(t *testing.T) {
	log, out := newTestLogger(formatKV, slog.LevelInfo)
	ctx := WithLogger(context.Background(), log)

	Info(ctx, "dialog", "faq.answer",
		slog.String("outcome", "Answered"),
		slog.String("payload", "  "),
		slog.Any("nothing", nil),
	)
	require.Contains(t, out.last(t), "outcome=answered")
	require.NotContains(t, out.last(t), "payload=")
	require.NotContains(t, out.last(t), "nothing")

	Info(ctx, "dialog", "faq.answer", slog.String("outcome", "exploded"))
	require.NotContains(t, out.last(t), "outcome")
}

func TestGroupsPrefixOnlyLaterAttrs(t *testing.T) {
	log, out := newTestLogger(formatKV, slog.LevelInfo)
	log = log.With("component", "qna").WithGroup("http").With("code", 503)

	log.Info("request", slog.Group("retry", slog.Int("attempt", 2)), slog.String("note", "has space"))
	line := out.last(t)
	require.Contains(t, line, "component=qna")
	require.Contains(t, line, "event=request")
	require.Contains(t, line, "http.code=503")
	require.Contains(t, line, "http.retry.attempt=2")
	require.Contains(t, line, `http.note="has space"`)
}

func TestCompactRIDKeepsNonNumericParts(t *testing.T) {
	require.Equal(t, "z.-2s.abc", CompactRID("35:-100:abc"))
	require.Equal(t, "a:b", CompactRID("a:b"))
}

func TestAsyncWriterFansOutAndDrains(t *testing.T) {
	var a, b bytes.Buffer
	w := newAsyncWriter([]io.Writer{&a, &b}, 16)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Write([]byte("line\n")))
	}
	require.NoError(t, w.Flush())
	require.Equal(t, 100, strings.Count(a.String(), "line\n"))
	require.NoError(t, w.Close())
	require.Equal(t, a.String(), b.String())
}

func TestSummarizeStrings(t *testing.T) {
	got, cut := SummarizeStrings([]string{"a", "b", "c"}, 2)
	require.Equal(t, "a, b", got)
	require.True(t, cut)

	got, cut = SummarizeStrings([]string{"a"}, 2)
	require.Equal(t, "a", got)
	require.False(t, cut)
}
