// Package logging builds the process zap logger: JSON or console output on
// stderr, optionally teed into a size-rotated file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

// Config selects level, encoding and the optional rotating file.
type Config struct {
	Level      string
	Format     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger for cfg. Close flushes and releases the log file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	encoder, err := buildEncoder(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	var rotator *lumberjack.Logger
	if path := strings.TrimSpace(cfg.FilePath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    positiveOr(cfg.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: positiveOr(cfg.MaxBackups, defaultMaxBackups),
			MaxAge:     positiveOr(cfg.MaxAgeDays, defaultMaxAgeDays),
			Compress:   true,
		}
		fileEncoder, _ := buildEncoder(FormatJSON)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	closeFn := func() error {
		_ = logger.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

func buildEncoder(format string) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return zapcore.NewJSONEncoder(encoderConfig), nil
	case FormatConsole:
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func positiveOr(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
