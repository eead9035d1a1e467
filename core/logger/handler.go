package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat int

const (
	formatJSON logFormat = iota
	formatKV
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// lineWriter receives one encoded log line at a time.
type lineWriter interface {
	Write(line []byte) error
}

// handler renders records as a flat set of fields. Attributes bound through
// WithAttrs are flattened when bound, so a later WithGroup does not rename them.
type handler struct {
	out    lineWriter
	level  slog.Leveler
	format logFormat
	prefix string
	bound  fields
}

func newHandler(out lineWriter, level slog.Leveler, format logFormat) *handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &handler{out: out, level: level, format: format}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.bound = make(fields, len(h.bound)+len(attrs))
	for k, v := range h.bound {
		clone.bound[k] = v
	}
	for _, a := range attrs {
		clone.bound.add(h.prefix, a)
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if h.out == nil {
		return fmt.Errorf("logger: no output configured")
	}
	f := make(fields, len(h.bound)+r.NumAttrs()+8)
	for k, v := range h.bound {
		f[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		f.add(h.prefix, a)
		return true
	})
	f.fromContext(ctx)

	f["ts"] = r.Time.UTC().Truncate(time.Millisecond).Format(tsLayout)
	f["level"] = levelName(r.Level)
	if f.str("event") == "" {
		f["event"] = firstNonEmpty(r.Message, "unknown")
	}
	if f.str("component") == "" {
		f["component"] = "app"
	}
	if rid := f.str("rid"); rid != "" {
		if short := CompactRID(rid); short != rid {
			f["rid"] = short
			if h.format == formatJSON {
				f["rid_full"] = rid
			}
		}
	}
	f.normalize()

	var line []byte
	if h.format == formatKV {
		line = encodeKV(f)
	} else {
		var err error
		if line, err = encodeJSON(f); err != nil {
			return err
		}
	}
	return h.out.Write(append(line, '\n'))
}

// fields is one log line before encoding. Empty strings and nils are dropped.
type fields map[string]any

func (f fields) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			f.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, val, ok := convert(key, v); ok {
		f[k] = val
	}
}

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// fromContext fills turn metadata the record did not set explicitly.
func (f fields) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	for key, val := range map[string]string{
		"rid":             RIDFrom(ctx),
		"activity_id":     ActivityIDFrom(ctx),
		"user_id":         UserIDFrom(ctx),
		"conversation_id": ConversationIDFrom(ctx),
		"handler":         HandlerFrom(ctx),
		"dialog_id":       DialogFrom(ctx),
	} {
		if _, set := f[key]; !set && val != "" {
			f[key] = val
		}
	}
}

func (f fields) normalize() {
	if s := f.str("status"); s != "" {
		f["status"] = strings.ToLower(s)
	}
	if k := f.str("err_kind"); k != "" {
		f["err_kind"] = strings.ToUpper(strings.ReplaceAll(k, " ", "_"))
	}
	if o := f.str("outcome"); o != "" {
		if known, ok := knownOutcome(o); ok {
			f["outcome"] = known
		} else {
			delete(f, "outcome")
		}
	}
	for k, v := range f {
		if v == nil {
			delete(f, k)
		} else if s, ok := v.(string); ok && s == "" {
			delete(f, k)
		}
	}
}

func convert(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return "", nil, false
	case error:
		return key, x.Error(), true
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, strings.TrimSpace(fmt.Sprint(x)), true
	}
}

// msKey makes every duration field end in _ms.
func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError+4:
		return LevelFatal
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	}
	return LevelDebug
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// keyOrder lists the known keys first in defaultKeyOrder, then the rest sorted.
func keyOrder(f fields) []string {
	keys := make([]string, 0, len(f))
	known := make(map[string]bool, len(defaultKeyOrder))
	for _, k := range defaultKeyOrder {
		known[k] = true
		if _, ok := f[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range f {
		if !known[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func encodeJSON(f fields) ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range keyOrder(f) {
		val, err := json.Marshal(f[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

func encodeKV(f fields) []byte {
	var b strings.Builder
	for i, k := range keyOrder(f) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		s := fmt.Sprint(f[k])
		if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	}
	return []byte(b.String())
}
