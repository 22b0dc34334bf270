// Package logging sets up the rotating file logger of the fmctl command.
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

// EnvLogLevel overrides the default info level.
const EnvLogLevel = "FM_LOG"

// Dir returns the fmctl state directory, creating it if it doesn't exist.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".fmctl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// New creates a JSON logger writing to dir/logs/fmctl.log with rotation. The
// returned function flushes buffered entries.
func New(dir string) (*zap.Logger, func(), error) {
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, "fmctl.log"),
		MaxSize:    2, // megabytes
		MaxBackups: 5,
		MaxAge:     15, // days
		Compress:   true,
	}
	cfg := zap.NewProductionConfig()
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), Level(os.Getenv(EnvLogLevel)))
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, func() {
		_ = logger.Sync()
		_ = rotator.Close()
	}, nil
}

// Level parses a level name; anything unknown is info.
func Level(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
