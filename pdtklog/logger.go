// Package pdtklog constructs the structured logger used across the pdtk
// core. It is intentionally a thin constructor, not a package-level
// global: per the core's "no process-wide singletons" redesign, every
// *zap.SugaredLogger this package hands out is owned by the Runtime (or
// test) that created it, not by pdtklog itself.
package pdtklog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a development-style console logger: colored levels, ISO8601
// timestamps, caller info. This mirrors the console encoder configuration
// used for interactive/system-service diagnostics in the surrounding
// ecosystem, just threaded through explicitly instead of stashed in a
// package variable.
func New() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg.EncoderConfig),
		zapcore.AddSync(os.Stdout),
		zap.InfoLevel,
	)
	return zap.New(core, zap.AddCaller()).Sugar()
}

// Nop returns a logger that discards everything, for tests that don't
// want console noise but still need a non-nil *zap.SugaredLogger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
