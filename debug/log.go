package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	file    *os.File
	sink    zapcore.WriteSyncer
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	verbose bool
)

func init() {
	sink = zapcore.Lock(os.Stderr)
	logger = zap.New(consoleCore()).Sugar()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return cfg
}

func consoleCore() zapcore.Core {
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), sink, level)
}

// rebuild recreates the logger from the console sink and the open file. Callers hold mu.
func rebuild() {
	core := consoleCore()
	if file != nil {
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(file), zapcore.DebugLevel)
		core = zapcore.NewTee(core, fileCore)
	}
	logger = zap.New(core).Sugar()
}

// SetOutput redirects console log output, e.g. away from a full-screen UI
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = zapcore.Lock(zapcore.AddSync(w))
	rebuild()
}

// DefaultLogPath returns ~/.config/transposer/debug.log
func DefaultLogPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "transposer", "debug.log")
}

// EnableFile tees all log output (including debug level) into path.
// An empty path uses DefaultLogPath.
func EnableFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		return nil
	}
	if path == "" {
		path = DefaultLogPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create log directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "open log file %s", path)
	}
	file = f

	rebuild()
	logger.Named("debug").Debug("=== Debug logging started ===")

	return nil
}

// Close flushes and closes the file sink, if any
func Close() {
	mu.Lock()
	defer mu.Unlock()

	_ = logger.Sync()
	if file != nil {
		file.Close()
		file = nil
		rebuild()
	}
}

// SetVerbose switches console output between info and debug level
func SetVerbose(on bool) {
	mu.Lock()
	verbose = on
	mu.Unlock()

	if on {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Verbose reports whether debug output is enabled
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

func named(category string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Named(category)
}

// Log writes a debug-level message
func Log(category, format string, args ...any) {
	named(category).Debugf(format, args...)
}

// Info writes an info-level message
func Info(category, format string, args ...any) {
	named(category).Infof(format, args...)
}

// Warn writes a warn-level message
func Warn(category, format string, args ...any) {
	named(category).Warnf(format, args...)
}

// Error writes an error-level message
func Error(category, format string, args ...any) {
	named(category).Errorf(format, args...)
}

// LogEvery logs only every N calls (use for high-frequency events)
var (
	countersMu sync.Mutex
	counters   = make(map[string]int)
)

func LogEvery(n int, category, format string, args ...any) {
	countersMu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	countersMu.Unlock()

	if n <= 1 || count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

// Sprint formats raw MIDI bytes as hex for log lines
func Sprint(msg []byte) string {
	return fmt.Sprintf("% X", msg)
}
