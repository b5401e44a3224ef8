// Package logging builds the zap loggers used by the bridge processes.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at level. "debug" selects the development console
// encoder; every other level logs JSON in production format.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var cfg zap.Config
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Must is New for process bootstrap, falling back to a production logger
// at info when level does not parse.
func Must(level string) *zap.Logger {
	logger, err := New(level)
	if err == nil {
		return logger
	}
	logger, _ = New("info")
	logger.Warn("invalid log level, using info", zap.String("level", level), zap.Error(err))
	return logger
}
