// Package logger provides the process-wide structured logger every
// job-judge service starts with, plus the C1 async sink: a single-writer
// queue that frames records with an ASCII EOT byte and ships them to a TCP
// collector or the console using the "0 ..."/"1 ..." wire shapes, keyed off
// the per-request LogContext propagated through context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger

// globalSink is the active C1 async sink, set by InitWithConfig when the
// configured output is "stdout" or "tcp". LogAccess and the shape handler
// both enqueue through it; it's nil when logging falls back to the legacy
// JSON/text handler (output "file" or "stderr").
var globalSink *sink

// Config configures the logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text (used only for file/stderr output)
	Output     string // stdout, stderr, file, tcp
	FilePath   string // used when Output == file
	TCPAddr    string // used when Output == tcp
	MaxSize    int    // MB, file rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	QueueSize  int // bounded async queue capacity, C1 sink only
}

// Init initializes the logger with console (shape-based) output at the
// given level.
func Init(level string) {
	InitWithConfig(Config{
		Level:  level,
		Output: "stdout",
	})
}

// InitWithConfig initializes the logger from a full configuration. Output
// "stdout"/"tcp" wires the C1 async sink (shape records, EOT framing);
// "file"/"stderr" keeps the legacy slog JSON/text handler with lumberjack
// rotation for local/ops convenience.
func InitWithConfig(cfg Config) {
	lvl := parseLevel(cfg.Level)

	if globalSink != nil {
		globalSink.close()
		globalSink = nil
	}

	switch cfg.Output {
	case "tcp":
		globalSink = newSink("tcp", cfg.TCPAddr, cfg.QueueSize, nil)
		Log = slog.New(newShapeHandler(lvl, globalSink))
		return
	case "stderr":
		Log = slog.New(legacyHandler(cfg, lvl, os.Stderr))
		return
	case "file":
		Log = slog.New(legacyHandler(cfg, lvl, fileWriter(cfg)))
		return
	default: // "stdout", "console", ""
		globalSink = newSink("console", "", cfg.QueueSize, os.Stdout)
		Log = slog.New(newShapeHandler(lvl, globalSink))
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fileWriter(cfg Config) io.Writer {
	path := cfg.FilePath
	if path == "" {
		path = "logs/app.log"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

func legacyHandler(cfg Config, lvl slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// WithContext returns a logger whose calls should be made with *Context
// methods (InfoContext, etc.) so the shape handler can pull the request's
// LogContext; args are bound as extra attributes on every record.
func WithContext(ctx context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

// WithRequestID adds a request_id attribute to every record from the
// returned logger.
func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

// WithService adds a service attribute to every record from the returned
// logger.
func WithService(service string) *slog.Logger {
	return Log.With("service", service)
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at error level and terminates the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
