package blankquiz

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	logMu       sync.RWMutex
	logger      = zap.NewNop().Sugar()
	verboseMode bool
)

// NewLogger builds a sugared zap logger. "prod" selects JSON output,
// anything else the development console encoder.
func NewLogger(mode string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// SetLogger replaces the package logger. A nil logger discards output.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

// Logger returns the package logger.
func Logger() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// SetVerbose sets the global verbose mode
func SetVerbose(verbose bool) {
	logMu.Lock()
	verboseMode = verbose
	logMu.Unlock()
}

// VerboseLog logs at debug level only when verbose mode is enabled
func VerboseLog(msg string, keysAndValues ...interface{}) {
	logMu.RLock()
	on, l := verboseMode, logger
	logMu.RUnlock()
	if on {
		l.Debugw(msg, keysAndValues...)
	}
}
