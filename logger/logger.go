// logger/logger.go
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"salon-referral-system/config"
)

// New builds the process logger. Production gets JSON output at info level,
// everything else a colored console encoder at debug level.
func New(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		zc := zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zc.Build()
	}
	zc := zap.NewDevelopmentConfig()
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zc.Build()
}

// Nop is used by tests and by commands that must stay quiet.
func Nop() *zap.Logger {
	return zap.NewNop()
}
