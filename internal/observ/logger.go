package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the client's logger. It writes to a file, never stdout:
// stdout belongs to the conversation. The returned AtomicLevel lets the
// /debug command raise the level at runtime.
func NewLogger(env, level, path string) (*zap.Logger, zap.AtomicLevel, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	config.Level = atomic

	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}

	log, err := config.Build()
	if err != nil {
		return nil, atomic, err
	}
	return log, atomic, nil
}
