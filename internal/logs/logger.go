// Package logs builds the zap logger shared by copydesk components.
package logs

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encoding selects the log output format.
type Encoding string

const (
	EncodingConsole Encoding = "console"
	EncodingJSON    Encoding = "json"
)

// Options configures the logger.
type Options struct {
	Level         string         // debug, info, warn, error
	Encoding      Encoding       // console or json
	OutputPaths   []string       // defaults to stdout
	InitialFields map[string]any // attached to every entry
}

// New builds a zap logger. Zero-value options give an info-level console logger on stdout.
func New(opts Options) (*zap.Logger, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingConsole
	}
	if len(opts.OutputPaths) == 0 {
		opts.OutputPaths = []string{"stdout"}
	}

	lvl, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parse level: %w", err)
	}

	conf := zap.Config{
		Level:       lvl,
		Development: opts.Encoding == EncodingConsole,
		Encoding:    string(opts.Encoding),
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    opts.InitialFields,
	}

	log, err := conf.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

// MustNew is New that panics on error.
func MustNew(opts Options) *zap.Logger {
	log, err := New(opts)
	if err != nil {
		panic(err)
	}
	return log
}

// OrNop returns l, or a no-op sugared logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
