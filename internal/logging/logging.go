// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	Debug bool
	// File, when set, receives a rotated copy of every entry in addition to stderr.
	File string
}

func New(opts Options) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	var cfg zap.Config
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if opts.File == "" {
		return l, nil
	}

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), rotated, cfg.Level)
	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

// Must is New for command entry points; it falls back to a bare stderr logger.
func Must(opts Options) *zap.Logger {
	l, err := New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed, using defaults: %v\n", err)
		return zap.NewExample()
	}
	return l
}
