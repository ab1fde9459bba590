// Package logging builds the zap.Logger shared by every cheeto subsystem,
// grounded on the teacher's cmd/server/main.go buildLogger.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// New builds a zap.Logger for the given level name (debug, info, warn,
// error). Development mode (debug) uses zap's human-readable console
// encoding; everything else uses the production JSON encoding.
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := parseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building zap logger: %w", err)
	}
	return logger, nil
}

// NewToFile builds a zap.Logger identical to New but writing JSON-encoded
// entries to w instead of stderr, for the CLI's `--log PATH` flag (spec.md
// §6).
func NewToFile(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	return zapcore.ParseLevel(level)
}

// GORMLevel maps a cheeto log level onto the noisier-by-default GORM query
// logger level, matching the teacher's gormLogLevel: GORM is generally
// quieter than the application logger unless debugging.
func GORMLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
