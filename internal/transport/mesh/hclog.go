package mesh

import (
	"bytes"
	"context"
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// hcLogger adapts slog.Logger to hashicorp/go-hclog.Logger.
type hcLogger struct {
	logger *slog.Logger
	name   string
	args   []any
}

func newHCLogger(logger *slog.Logger, name string) *hcLogger {
	return &hcLogger{logger: logger.With("subsystem", name), name: name}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return l.logger.Enabled(context.Background(), slog.LevelDebug) }
func (l *hcLogger) IsInfo() bool  { return l.logger.Enabled(context.Background(), slog.LevelInfo) }
func (l *hcLogger) IsWarn() bool  { return l.logger.Enabled(context.Background(), slog.LevelWarn) }
func (l *hcLogger) IsError() bool { return l.logger.Enabled(context.Background(), slog.LevelError) }

func (l *hcLogger) ImpliedArgs() []any { return l.args }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return &hcLogger{
		logger: l.logger.With(args...),
		name:   l.name,
		args:   append(append([]any(nil), l.args...), args...),
	}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return l.ResetNamed(name)
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{logger: l.logger.With("subsystem", name), name: name, args: l.args}
}

// SetLevel is a no-op; the level follows the process log level.
func (l *hcLogger) SetLevel(hclog.Level) {}

func (l *hcLogger) GetLevel() hclog.Level {
	switch {
	case l.IsDebug():
		return hclog.Debug
	case l.IsInfo():
		return hclog.Info
	case l.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	infer := opts != nil && opts.InferLevels
	return &stdWriter{logger: l, infer: infer}
}

// stdWriter receives lines from a standard library logger. With infer set,
// a leading "[LEVEL]" tag such as memberlist's "[DEBUG] memberlist: ..."
// selects the level.
type stdWriter struct {
	logger *hcLogger
	infer  bool
}

var levelTags = []struct {
	tag   []byte
	level hclog.Level
}{
	{[]byte("[TRACE]"), hclog.Trace},
	{[]byte("[DEBUG]"), hclog.Debug},
	{[]byte("[INFO]"), hclog.Info},
	{[]byte("[WARN]"), hclog.Warn},
	{[]byte("[ERR]"), hclog.Error},
	{[]byte("[ERROR]"), hclog.Error},
}

func (w *stdWriter) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)
	level := hclog.Info
	if w.infer {
		for _, lt := range levelTags {
			if bytes.HasPrefix(line, lt.tag) {
				level = lt.level
				line = bytes.TrimSpace(line[len(lt.tag):])
				break
			}
		}
	}
	w.logger.Log(level, string(line))
	return len(p), nil
}

var _ hclog.Logger = (*hcLogger)(nil)
