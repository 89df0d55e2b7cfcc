// Package logging provides config-driven categorized file-based logging for crucible.
// Logs are written to .crucible/logs/ with separate files per category.
// Logging is controlled by debug_mode in .crucible/config.json - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Boot/initialization
	CategorySession      Category = "session"      // Validation session lifecycle
	CategoryIteration    Category = "iteration"    // Smart iteration controller
	CategoryKnowledge    Category = "knowledge"    // Knowledge store operations
	CategorySimilarity   Category = "similarity"   // Signature matching
	CategoryStore        Category = "store"        // Backing stores (file, sqlite, redis)
	CategoryOrchestrator Category = "orchestrator" // Worker pool orchestration
	CategoryProbe        Category = "probe"        // Dimension probes
)

var allCategories = []Category{
	CategoryBoot, CategorySession, CategoryIteration, CategoryKnowledge,
	CategorySimilarity, CategoryStore, CategoryOrchestrator, CategoryProbe,
}

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// configFile structure for reading .crucible/config.json
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry represents a JSON log entry
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".crucible", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== crucible Logging System Initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", config.Level)

	return nil
}

// loadConfig reads the logging config from .crucible/config.json
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".crucible", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// EnableDebug turns on debug logging at runtime, overriding the config
// file. A non-empty category list acts as an allow-list; empty enables
// every category.
func EnableDebug(categories []string, jsonFormat bool) error {
	configMu.Lock()
	config.DebugMode = true
	config.JSONFormat = jsonFormat
	if len(categories) > 0 {
		config.Categories = make(map[string]bool)
		for _, cat := range allCategories {
			config.Categories[string(cat)] = false
		}
		for _, c := range categories {
			config.Categories[c] = true
		}
	} else {
		config.Categories = nil
	}
	logLevel = LevelDebug
	configLoaded = true
	configMu.Unlock()

	if logsDir == "" {
		return fmt.Errorf("logging not initialized")
	}
	return os.MkdirAll(logsDir, 0755)
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Session logs to the session category
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// Iteration logs to the iteration category
func Iteration(format string, args ...interface{}) {
	Get(CategoryIteration).Info(format, args...)
}

// IterationDebug logs debug to the iteration category
func IterationDebug(format string, args ...interface{}) {
	Get(CategoryIteration).Debug(format, args...)
}

// IterationWarn logs warning to the iteration category
func IterationWarn(format string, args ...interface{}) {
	Get(CategoryIteration).Warn(format, args...)
}

// Knowledge logs to the knowledge category
func Knowledge(format string, args ...interface{}) {
	Get(CategoryKnowledge).Info(format, args...)
}

// KnowledgeDebug logs debug to the knowledge category
func KnowledgeDebug(format string, args ...interface{}) {
	Get(CategoryKnowledge).Debug(format, args...)
}

// KnowledgeWarn logs warning to the knowledge category
func KnowledgeWarn(format string, args ...interface{}) {
	Get(CategoryKnowledge).Warn(format, args...)
}

// Similarity logs to the similarity category
func Similarity(format string, args ...interface{}) {
	Get(CategorySimilarity).Info(format, args...)
}

// SimilarityDebug logs debug to the similarity category
func SimilarityDebug(format string, args ...interface{}) {
	Get(CategorySimilarity).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// Orchestrator logs to the orchestrator category
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// OrchestratorWarn logs warning to the orchestrator category
func OrchestratorWarn(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Warn(format, args...)
}

// Probe logs to the probe category
func Probe(format string, args ...interface{}) {
	Get(CategoryProbe).Info(format, args...)
}

// ProbeDebug logs debug to the probe category
func ProbeDebug(format string, args ...interface{}) {
	Get(CategoryProbe).Debug(format, args...)
}

// ProbeWarn logs warning to the probe category
func ProbeWarn(format string, args ...interface{}) {
	Get(CategoryProbe).Warn(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
