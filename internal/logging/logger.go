// Package logging provides config-driven categorized file-based logging for
// the OAK Codebase Intelligence daemon. Logs are written to
// <project>/.oak/ci/logs/ with separate files per category, plus two always-on
// aggregate files: daemon.log (info and above, all categories) and hooks.log
// (everything from the hooks category). Per-category debug files are only
// written when debug_mode is enabled in .oak/ci/config.json.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup/shutdown lifecycle
	CategoryStore      Category = "store"      // Activity store (SQLite)
	CategoryVector     Category = "vector"     // Vector store (sqlite-vec)
	CategoryEmbedding  Category = "embedding"  // Embedding provider chain
	CategoryIndexer    Category = "indexer"    // Code indexing and chunking
	CategoryWatcher    Category = "watcher"    // Filesystem watcher
	CategoryProcessor  Category = "processor"  // Background activity processor
	CategoryGovernance Category = "governance" // Rule evaluation and audit
	CategoryServer     Category = "server"     // HTTP API
	CategoryHooks      Category = "hooks"      // Agent hook events
	CategoryTunnel     Category = "tunnel"     // Tunnel subprocess
	CategoryCloud      Category = "cloud"      // Cloud relay
	CategoryBackup     Category = "backup"     // Backup/restore
)

// Config mirrors the logging block of .oak/ci/config.json.
type Config struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

type configFile struct {
	Logging Config `json:"logging"`
}

// Logger wraps a zap sugared logger bound to one category. A Logger with a
// nil sugar field is a no-op; every method tolerates it so callers never
// nil-check.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu           sync.RWMutex
	loggers      = make(map[Category]*Logger)
	logsDir      string
	projectRoot  string
	cfg          Config
	logLevel     zapcore.Level
	daemonCore   zapcore.Core // info+ aggregate, always on
	hooksCore    zapcore.Core // hooks.log, always on
	daemonSyncer zapcore.WriteSyncer
)

// Initialize sets up the logging directory and loads the logging config.
// Call once at startup with the project root.
func Initialize(root string) error {
	if root == "" {
		return fmt.Errorf("project root required")
	}

	mu.Lock()
	defer mu.Unlock()

	projectRoot = root
	ciDir := filepath.Join(root, ".oak", "ci")
	logsDir = filepath.Join(ciDir, "logs")

	if err := loadConfigLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
		cfg.DebugMode = false
	}

	if err := os.MkdirAll(ciDir, 0o755); err != nil {
		return fmt.Errorf("failed to create ci directory: %w", err)
	}
	if cfg.DebugMode {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	enc := zapcore.NewConsoleEncoder(encoderConfig())

	daemonFile, err := os.OpenFile(filepath.Join(ciDir, "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open daemon.log: %w", err)
	}
	daemonSyncer = zapcore.AddSync(daemonFile)
	daemonCore = zapcore.NewCore(enc, daemonSyncer, zapcore.InfoLevel)

	hooksFile, err := os.OpenFile(filepath.Join(ciDir, "hooks.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open hooks.log: %w", err)
	}
	hooksCore = zapcore.NewCore(enc, zapcore.AddSync(hooksFile), zapcore.DebugLevel)

	// Reset any loggers created before Initialize.
	loggers = make(map[Category]*Logger)

	return nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func loadConfigLocked() error {
	configPath := filepath.Join(projectRoot, ".oak", "ci", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = Config{DebugMode: false, Level: "info"}
			logLevel = zapcore.InfoLevel
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg = cf.Logging

	switch cfg.Level {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "warn", "warning":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	default:
		logLevel = zapcore.InfoLevel
	}
	return nil
}

// ReloadConfig re-reads the logging config from disk. Call when the config
// file changes at runtime.
func ReloadConfig() error {
	mu.Lock()
	defer mu.Unlock()
	return loadConfigLocked()
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.DebugMode
}

func categoryEnabled(category Category) bool {
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for the given category. The returned
// logger always routes info+ records to daemon.log; the per-category debug
// file is attached only in debug mode.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	cores := make([]zapcore.Core, 0, 3)
	if daemonCore != nil {
		cores = append(cores, daemonCore)
	}
	if category == CategoryHooks && hooksCore != nil {
		cores = append(cores, hooksCore)
	}
	if categoryEnabled(category) && logsDir != "" {
		date := time.Now().Format("2006-01-02")
		logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] warning: could not open log file %s: %v\n", logPath, err)
		} else {
			cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(file), logLevel))
		}
	}

	l := &Logger{category: category}
	if len(cores) > 0 {
		zl := zap.New(zapcore.NewTee(cores...)).Named(string(category))
		l.sugar = zl.Sugar()
	}
	loggers[category] = l
	return l
}

// Debug logs a debug-level message with printf formatting.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an info-level message with printf formatting.
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warn-level message with printf formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error-level message with printf formatting.
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Sync flushes all buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	if daemonSyncer != nil {
		_ = daemonSyncer.Sync()
	}
}
