// Package logging sets up the global zap logger.  Everything else logs through
// zap.S() so nothing needs a logger passed in.
package logging

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init builds a development (console, debug) or production (JSON, info)
// logger and installs it as the global.  The returned func flushes it.
func Init(dev bool) func() {
	var cfg zap.Config

	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("can't initialize logger: %v", err)
	}
	undo := zap.ReplaceGlobals(logger)
	// Route stray log.Printf output into zap too.
	undoStd := zap.RedirectStdLog(logger)

	return func() {
		_ = logger.Sync()
		undoStd()
		undo()
	}
}

// Quiet installs a logger that only reports warnings and worse, on stderr.
// The CLI uses it so its own output stays readable.
func Quiet() func() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.EncoderConfig.TimeKey = ""
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("can't initialize logger: %v", err)
	}
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}
