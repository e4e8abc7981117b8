package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level, encoding and destination of the process log.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Format is json or text ("console" is accepted for text).
	Format string
	// Output defaults to os.Stderr.
	Output    io.Writer
	AddSource bool
}

// level is shared by every logger built by New so that SetLevel reaches
// all of them, including those already handed to components.
var level = new(slog.LevelVar)

// New builds a slog logger whose handler redacts payloads and secrets and
// adds the session and device ids carried by the record's context.
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		h = slog.NewTextHandler(out, opts)
	case "", "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(&contextHandler{Handler: h}), nil
}

// SetLevel changes the level of every logger built by New. Unknown names
// are ignored.
func SetLevel(name string) {
	if lvl, err := ParseLevel(name); err == nil {
		level.Set(lvl)
	}
}

// Level returns the current level name.
func Level() string {
	return strings.ToLower(level.Level().String())
}

// ParseLevel maps a level name to its slog level. An empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// SetDefault installs l as the slog default so that components falling
// back to slog.Default() share it.
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
