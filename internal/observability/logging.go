// Package observability provides the logging, metrics, and tracing stack
// for the parley runtime: a slog-based logger with secret redaction,
// Prometheus metrics for turns, tools, and channels, and OpenTelemetry
// tracing around model calls.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Context keys for fields the logger extracts automatically.
type contextKey string

const (
	// SessionIDKey carries the session id through a turn.
	SessionIDKey contextKey = "session_id"

	// AgentIDKey carries the active agent id through a turn.
	AgentIDKey contextKey = "agent_id"

	// RequestIDKey carries the JSON-RPC request id, when present.
	RequestIDKey contextKey = "request_id"
)

// WithSession returns a context tagged with session and agent ids for
// log extraction.
func WithSession(ctx context.Context, sessionID, agentID string) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	}
	if agentID != "" {
		ctx = context.WithValue(ctx, AgentIDKey, agentID)
	}
	return ctx
}

// defaultRedactions match secrets that must never reach log output:
// provider API keys, bearer tokens, JWTs, and key=value credential pairs.
var defaultRedactions = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{10,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(password|secret|api_key|token)\s*[=:]\s*\S+`),
}

// LogConfig configures logger construction.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Format is "text" or "json". Defaults to text.
	Format string

	// Redact enables secret redaction. Defaults on; only tests should
	// turn it off.
	Redact bool

	// Output overrides the destination (stderr by default).
	Output *os.File
}

// Logger wraps slog with redaction and context-field extraction. The
// zero value is not usable; construct with NewLogger.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// NewLogger builds a logger from config.
func NewLogger(cfg LogConfig) *Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	var redacts []*regexp.Regexp
	if cfg.Redact {
		redacts = defaultRedactions
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
	}
}

// NewNopLogger returns a logger that discards everything. Intended for
// tests.
func NewNopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithFields returns a logger with the fields attached to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

// Named is shorthand for a component-scoped logger.
func (l *Logger) Named(component string) *Logger {
	return l.WithFields("component", component)
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	msg = l.redactString(msg)

	attrs := make([]any, 0, len(args)+6)
	if sid, ok := ctx.Value(SessionIDKey).(string); ok && sid != "" {
		attrs = append(attrs, slog.String("session_id", sid))
	}
	if aid, ok := ctx.Value(AgentIDKey).(string); ok && aid != "" {
		attrs = append(attrs, slog.String("agent_id", aid))
	}
	if rid, ok := ctx.Value(RequestIDKey).(string); ok && rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	for _, a := range args {
		attrs = append(attrs, l.redactValue(a))
	}

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case map[string]any:
		return l.redactMap(val)
	case json.RawMessage:
		return l.redactString(string(val))
	default:
		return v
	}
}

var sensitiveKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true,
	"auth": true, "authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = l.redactValue(v)
	}
	return out
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
