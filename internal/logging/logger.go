// Package logging provides categorized file-based logging for the fridge
// order agent. Logs are written to <workspace>/.fridge/logs/ with one file per
// category. When debug mode is off, only warnings and errors are recorded.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and configuration
	CategoryBrowser Category = "browser" // Page navigation, DOM interaction
	CategorySession Category = "session" // Session save/restore, auth state
	CategoryPolicy  Category = "policy"  // Candidate selection decisions
	CategoryLLM     Category = "llm"     // Reasoning service calls
	CategoryOrder   Category = "order"   // Orchestrator runs
	CategoryStore   Category = "store"   // SQLite history/preferences
	CategoryServer  Category = "server"  // HTTP surface
	CategoryDetect  Category = "detect"  // Missing-item detection
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelWarn
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path. Debug mode lowers the level to debug and is the
// only mode in which per-category files are created eagerly.
func Initialize(workspace string, debug bool) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	logsDir = filepath.Join(workspace, ".fridge", "logs")
	debugMode = debug
	if debug {
		logLevel = LevelDebug
	} else {
		logLevel = LevelWarn
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// SetLevel overrides the global log level (LevelDebug..LevelError).
func SetLevel(level int) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	logLevel = level
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if logsDir != "" {
		path := filepath.Join(logsDir, string(category)+".log")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	if l.logger == nil {
		l.logger = log.New(os.Stderr, fmt.Sprintf("[%s] ", category), log.LstdFlags)
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all category files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if level < currentLevel() {
		return
	}
	l.logger.Printf("%s %s", tag, fmt.Sprintf(format, args...))
}

func currentLevel() int {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	return logLevel
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Convenience wrappers for the hot categories, mirroring call sites like
// logging.Browser("navigated to %s", url).

func Browser(format string, args ...interface{})      { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }
func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func Policy(format string, args ...interface{})       { Get(CategoryPolicy).Info(format, args...) }
func PolicyDebug(format string, args ...interface{})  { Get(CategoryPolicy).Debug(format, args...) }
func LLM(format string, args ...interface{})          { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{})     { Get(CategoryLLM).Debug(format, args...) }
func Order(format string, args ...interface{})        { Get(CategoryOrder).Info(format, args...) }
func Store(format string, args ...interface{})        { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})   { Get(CategoryStore).Debug(format, args...) }
func Server(format string, args ...interface{})       { Get(CategoryServer).Info(format, args...) }
func Detect(format string, args ...interface{})       { Get(CategoryDetect).Info(format, args...) }
