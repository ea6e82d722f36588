// Package logging builds the process logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger at debug level when verbose is set.
// Otherwise it returns a production (JSON) logger at level, which defaults
// to warn so one-shot commands stay quiet on stderr.
func New(verbose bool, level ...zapcore.Level) (*zap.Logger, error) {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to build development logger: %w", err)
		}
		return logger, nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if len(level) > 0 {
		cfg.Level = zap.NewAtomicLevelAt(level[0])
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build production logger: %w", err)
	}
	return logger, nil
}
