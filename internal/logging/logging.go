// Package logging provides the process-wide logger for kaitiaki.
// Dot-import it to call L_info, L_warn, etc. directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Log levels, most severe first.
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	mu     sync.Mutex
	logger *log.Logger
	level  atomic.Int32
)

// Settings configures the global logger.
type Settings struct {
	Level      int
	TimeFormat string
	ShowCaller bool
	Output     io.Writer // nil = stderr
}

// DefaultSettings logs info and above to stderr.
func DefaultSettings() *Settings {
	return &Settings{Level: LevelInfo, TimeFormat: "15:04:05"}
}

// ParseLevel maps a level name from config or flags to a Level* constant.
// Unknown names map to LevelInfo.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Init replaces the global logger. Calls before Init log at info to stderr.
func Init(cfg *Settings) {
	if cfg == nil {
		cfg = DefaultSettings()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // emit -> L_* -> caller
	})

	mu.Lock()
	logger = l
	mu.Unlock()
	SetLevel(cfg.Level)
}

// SetLevel changes the level at runtime.
func SetLevel(lvl int) {
	level.Store(int32(lvl))
	current().SetLevel(charmLevel(lvl))
}

// Enabled reports whether messages at lvl are emitted.
func Enabled(lvl int) bool {
	current()
	return int(level.Load()) >= lvl
}

func current() *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, TimeFormat: "15:04:05", CallerOffset: 2})
		level.Store(LevelInfo)
	}
	return logger
}

// charm has no trace level; trace is gated here and printed as debug.
func charmLevel(lvl int) log.Level {
	switch lvl {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError, LevelFatal:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// hasFmtVerb checks if a string contains printf-style format verbs
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// sensitive reports whether a key/value key names a credential.
func sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"apikey", "api_key", "secret", "token", "password", "authorization", "credential"} {
		if strings.HasSuffix(k, s) {
			return true
		}
	}
	return false
}

// redact masks string values whose key names a credential. Empty values
// are left alone so an unset token stays visible.
func redact(keyvals []any) []any {
	out := make([]any, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok || !sensitive(key) {
			continue
		}
		if s, ok := out[i+1].(string); !ok || s == "" {
			continue
		}
		out[i+1] = "[redacted]"
	}
	return out
}

// emit accepts three shapes:
// emit(lvl, "message"), emit(lvl, "value is %d", 42) and
// emit(lvl, "loaded", "key", val, ...).
func emit(lvl log.Level, msg string, args ...any) {
	l := current()

	var keyvals []any
	switch {
	case len(args) == 0:
	case hasFmtVerb(msg):
		msg = fmt.Sprintf(msg, args...)
	default:
		keyvals = redact(args)
	}

	switch lvl {
	case log.DebugLevel:
		l.Debug(msg, keyvals...)
	case log.InfoLevel:
		l.Info(msg, keyvals...)
	case log.WarnLevel:
		l.Warn(msg, keyvals...)
	case log.ErrorLevel:
		l.Error(msg, keyvals...)
	case log.FatalLevel:
		l.Fatal(msg, keyvals...)
	}
}

// L_trace logs only when the level is LevelTrace.
func L_trace(msg string, args ...any) {
	if !Enabled(LevelTrace) {
		return
	}
	emit(log.DebugLevel, msg, args...)
}

func L_debug(msg string, args ...any) { emit(log.DebugLevel, msg, args...) }

func L_info(msg string, args ...any) { emit(log.InfoLevel, msg, args...) }

func L_warn(msg string, args ...any) { emit(log.WarnLevel, msg, args...) }

func L_error(msg string, args ...any) { emit(log.ErrorLevel, msg, args...) }

// L_fatal logs and exits the process.
func L_fatal(msg string, args ...any) { emit(log.FatalLevel, msg, args...) }
