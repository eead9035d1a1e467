package logger

import "strings"

// Level names as they appear in the "level" field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

// outcomes is the closed set of "outcome" values; anything else is dropped.
var outcomes = map[string]bool{
	"ok":           true,
	"fail":         true,
	"cancelled":    true,
	"rate_limited": true,
	"answered":     true,
	"no_answer":    true,
	"fallback":     true,
	"prompt":       true,
	"next":         true,
	"end":          true,
	"replace":      true,
	"begin":        true,
}

func knownOutcome(o string) (string, bool) {
	o = strings.ToLower(strings.TrimSpace(o))
	return o, outcomes[o]
}

// defaultKeyOrder puts the fields people grep for first.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"activity_id",
	"activity_type",
	"user_id",
	"conversation_id",
	"channel",
	"handler",
	"dialog_id",
	"step",
	"depth",
	"outcome",
	"target",
	"duration_ms",
	"replies",
	"kb",
	"count",
	"cache",
	"payload",
	"lang",
	"username",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"backend",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"err_kind",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
}
