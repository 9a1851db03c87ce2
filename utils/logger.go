package utils

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// LogOptions configures the process logger.
type LogOptions struct {
	Debug bool
	// Dir receives flashlender.log and flashlender-error.log. Empty logs to
	// stderr only.
	Dir string
	// Scenario is the scenario file every entry is tagged with.
	Scenario string
}

// NewLogger builds a logger that writes JSON entries to stderr, which keeps
// stdout free for command output.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.Dir != "" {
		config.OutputPaths = append(config.OutputPaths, filepath.Join(opts.Dir, "flashlender.log"))
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, filepath.Join(opts.Dir, "flashlender-error.log"))
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"

	scenario := opts.Scenario
	if scenario == "" {
		scenario = "builtin"
	}
	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("app", "flashlender"), zap.String("scenario", scenario)),
	)
}

// InitLogger initializes the global logger instance
func InitLogger(opts LogOptions) *zap.Logger {
	once.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			panic(err)
		}
		log = logger
	})

	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
