// Package logger is a small global slog wrapper: one process-wide logger
// whose level and format can be reconfigured at runtime, adapted from the
// teacher's atomic-level slog wrapper to a driver library's needs (no
// request-context trace injection, since that belongs to the caller's own
// observability stack, not to gobolt).
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level mirrors slog's levels with a driver-local name so callers don't need
// to import log/slog just to call SetLevel.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures the package logger. Output is "stdout", "stderr", or
// empty (defaults to stderr, since a driver library's logs are diagnostic
// noise relative to a host application's own stdout).
type Config struct {
	Level  string
	Format string // "text" or "json"
	Output string
}

var (
	currentLevel atomic.Int32

	mu            sync.RWMutex
	slogger       *slog.Logger
	currentFormat = "text"
	currentOutput io.Writer = os.Stderr
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	reconfigure(currentFormat, currentOutput)
}

func reconfigure(format string, w io.Writer) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(Level(currentLevel.Load()).slogLevel())
	opts := &slog.HandlerOptions{Level: levelVar}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	currentFormat = format
	currentOutput = w
	slogger = slog.New(h).With("component", "gobolt")
	mu.Unlock()
}

// Init applies cfg to the package logger. An empty Level leaves the level
// unchanged; an empty Output selects stderr and any Format other than "json"
// selects text, whatever was configured before.
func Init(cfg Config) {
	w := io.Writer(os.Stderr)
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
		w = os.Stderr
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	format := strings.ToLower(cfg.Format)
	if format != "json" {
		format = "text"
	}
	reconfigure(format, w)
}

// SetLevel parses level ("debug"/"info"/"warn"/"error", case-insensitive)
// and applies it; an unrecognized value is ignored.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel.Store(int32(LevelDebug))
	case "info":
		currentLevel.Store(int32(LevelInfo))
	case "warn":
		currentLevel.Store(int32(LevelWarn))
	case "error":
		currentLevel.Store(int32(LevelError))
	default:
		return
	}
	mu.RLock()
	format, w := currentFormat, currentOutput
	mu.RUnlock()
	reconfigure(format, w)
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }
func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger scoped with the given key/value pairs, for tagging
// every log line from one connection or pool with its address/id.
func With(args ...any) *slog.Logger { return get().With(args...) }
