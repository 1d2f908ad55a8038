// Package logging provides category-scoped logging for archon. Each pipeline
// subsystem writes to its own file under <workspace>/.archon/logs, backed by
// zap cores. Before Initialize is called every logger is a no-op, so library
// code can log unconditionally without caring whether a process bootstrapped
// the log directory.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Process bootstrap
	CategoryLedger     Category = "ledger"     // Chain append, persistence
	CategoryStaging    Category = "staging"    // Stage/commit lifecycle
	CategoryTrust      Category = "trust"      // Trust weight updates
	CategoryVerify     Category = "verify"     // State hashing and locking
	CategoryAdjudicate Category = "adjudicate" // Trust calculus decisions
	CategoryRemediate  Category = "remediate"  // Failure mandates
	CategoryPolicy     Category = "policy"     // Policy kernel, veto rules
	CategoryExecutor   Category = "executor"   // Mutation execution
	CategoryStore      Category = "store"      // Persistence collaborators
)

var (
	mu          sync.RWMutex
	logsDir     string
	debugMode   bool
	initialized bool
	loggers     = make(map[Category]*Logger)
)

// Logger is a category-scoped logger. Methods are printf-style to keep call
// sites terse; structured fields belong in the audit trail, not here.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

// Initialize sets up the log directory and enables file logging. debug
// controls the minimum level (debug vs info). Safe to call once at startup;
// later calls are no-ops.
func Initialize(workspace string, debug bool) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	dir := filepath.Join(workspace, ".archon", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	logsDir = dir
	debugMode = debug
	initialized = true
	return nil
}

// IsInitialized reports whether file logging is active.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// LogsDir returns the active log directory, or "" before Initialize.
func LogsDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return logsDir
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category, sugar: buildSugarLocked(category)}
	loggers[category] = l
	return l
}

func buildSugarLocked(category Category) *zap.SugaredLogger {
	if !initialized {
		return zap.NewNop().Sugar()
	}

	path := filepath.Join(logsDir, string(category)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return zap.NewNop().Sugar()
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zapcore.InfoLevel
	if debugMode {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(file), level)
	return zap.New(core).Sugar().With("category", string(category))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) { l.sugar.Infof(format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) { l.sugar.Warnf(format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes all category loggers. Called at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}

// resetForTest clears global state so tests can re-initialize into a temp dir.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()
	logsDir = ""
	debugMode = false
	initialized = false
	loggers = make(map[Category]*Logger)
}
