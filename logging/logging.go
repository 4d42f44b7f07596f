// Package logging builds the zap loggers used across traywatch.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and an optional rotating file sink.
type Config struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	// File, when set, receives a copy of every log line with size based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig logs info and above to stdout in console form.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "console", MaxSizeMB: 100, MaxBackups: 3}
}

// ParseLevel maps debug, info, warn and error to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, errors.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// NewEncoderConfig mirrors zap's production keys but with ISO8601 time and short callers.
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New returns a logger for cfg. Stacktraces are disabled.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(NewEncoderConfig())
	case "json":
		encoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	default:
		return nil, errors.Errorf("unknown log encoding %q", cfg.Encoding)
	}

	enabler := zap.NewAtomicLevelAt(level)
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), enabler)}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		// The file always gets JSON so it can be shipped as is.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), zapcore.AddSync(sink), enabler))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
