package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	nop    = zap.NewNop()
)

// LoggerOptions controls how the process logger is built
type LoggerOptions struct {
	Env     string
	Level   string
	Service string
}

// InitLogger builds the process logger. Production uses JSON output, anything
// else the colored console encoder. An unparsable level falls back to info.
func InitLogger(opts LoggerOptions) error {
	var cfg zap.Config
	if opts.Env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	if opts.Service != "" {
		built = built.With(zap.String("service", opts.Service))
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the process logger. Before InitLogger runs, as in tests,
// it is a no-op logger.
func GetLogger() *zap.Logger {
	if logger == nil {
		return nop
	}
	return logger
}

// ComponentLogger returns the process logger tagged with a component name
func ComponentLogger(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

// SyncLogger flushes buffered entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
