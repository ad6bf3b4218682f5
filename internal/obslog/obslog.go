// Package obslog builds the process-wide zap logger.
package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() { global.Store(zap.NewNop()) }

// L returns the global logger. It is a no-op logger until Init runs.
func L() *zap.Logger { return global.Load() }

// Options selects level, encoding and sinks.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // legacy, json, console
	Console bool
	File    string // empty disables the file sink
	Caller  bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE and LOG_CALLER.
func OptionsFromEnv(getenv func(string) string) Options {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k, def string) string {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
		return def
	}
	o := Options{
		Level:   get("LOG_LEVEL", "info"),
		Format:  get("LOG_FORMAT", "json"),
		Console: strings.EqualFold(get("LOG_TO_CONSOLE", "true"), "true"),
		Caller:  strings.EqualFold(get("LOG_CALLER", "false"), "true"),
	}
	if strings.EqualFold(get("LOG_TO_FILE", "false"), "true") {
		o.File = get("LOG_FILE", filepath.Join("logs", "arena.log"))
	}
	return o
}

// Build creates a logger writing to stdout (when Console) and File.
func Build(o Options) (*zap.Logger, io.Closer, error) {
	return build(o, os.Stdout)
}

func build(o Options, stdout zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	level := parseLevel(o.Level)
	format := strings.ToLower(strings.TrimSpace(o.Format))
	var cores []zapcore.Core
	if o.Console {
		cores = append(cores, zapcore.NewCore(encoder(format), stdout, level))
	}
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("obslog: log dir: %w", err)
		}
		f, err := os.OpenFile(o.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("obslog: open log file: %w", err)
		}
		closer = f
		cores = append(cores, zapcore.NewCore(encoder(format), zapcore.AddSync(f), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), closer, nil
	}
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if o.Caller || format == "legacy" {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), closer, nil
}

// Init builds the logger from env and installs it globally.
func Init() (*zap.Logger, io.Closer, error) {
	l, c, err := Build(OptionsFromEnv(nil))
	if err != nil {
		return nil, nil, err
	}
	global.Store(l)
	return l, c, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func encoder(format string) zapcore.Encoder {
	switch format {
	case "console":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	case "legacy":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
