package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pricecontest/internal/config"
)

const serviceName = "pricecontest"

// New builds the process logger. An unknown level falls back to info and anything but "json"
// encodes as console.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Encoding != "json" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Development = cfg.Development
	zc.DisableCaller = cfg.DisableCaller
	zc.DisableStacktrace = cfg.DisableStacktrace
	zc.Sampling = nil
	if cfg.Sampling {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zc.Level = level

	return zc.Build(zap.Fields(zap.String("service", serviceName)))
}
