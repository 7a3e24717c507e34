package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the run logger is built. Logs go to stderr so
// stdout stays clean for command output.
type Options struct {
	Verbose bool
	// Console switches from JSON lines to a human-readable encoder.
	Console bool
}

// New builds the logger the command injects into its collaborators.
// There is no package-level logger; everything receives its logger
// explicitly.
func New(options Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if options.Console {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if options.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

// NewNop returns a logger that discards everything. Tests use it.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
