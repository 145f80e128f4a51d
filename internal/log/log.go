// Package log owns the process-wide zap logger.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// Logger returns the shared logger, building it on first use.
func Logger() *zap.Logger {
	once.Do(func() {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			panic(err)
		}
	})
	return logger
}
