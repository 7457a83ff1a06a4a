package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const logDirEnvVar = "SCENEHUB_LOG_DIR"

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Category selects which log file a logger writes to.
type Category string

const (
	CategoryService  Category = "service"
	CategoryDelivery Category = "delivery"
)

var (
	serviceOnce     sync.Once
	serviceInstance *FileLogger
	categoryMu      sync.Mutex
	categoryLoggers = make(map[Category]*FileLogger)
)

// FileLogger writes formatted log lines to a per-category file under the
// directory named by SCENEHUB_LOG_DIR (or $HOME when unset).
type FileLogger struct {
	file       *os.File
	logger     *log.Logger
	level      Level
	mu         sync.Mutex
	component  string
	enableFile bool
	category   Category
}

// NewComponentLogger creates a service-category logger for a component.
func NewComponentLogger(component string) *FileLogger {
	return NewCategorizedLogger(CategoryService, component)
}

// NewDeliveryLogger creates a logger that writes to the dedicated message
// delivery log file. Executor send/edit/delete failures land here.
func NewDeliveryLogger(component string) *FileLogger {
	return NewCategorizedLogger(CategoryDelivery, component)
}

// NewCategorizedLogger creates a logger for a specific category and component.
func NewCategorizedLogger(category Category, component string) *FileLogger {
	base := getOrCreateCategoryLogger(category)
	return &FileLogger{
		file:       base.file,
		logger:     base.logger,
		level:      base.level,
		component:  component,
		enableFile: base.enableFile,
		category:   category,
	}
}

func getOrCreateCategoryLogger(category Category) *FileLogger {
	if category == CategoryService {
		serviceOnce.Do(func() {
			serviceInstance = newFileLogger(LevelDebug, category)
		})
		return serviceInstance
	}

	categoryMu.Lock()
	defer categoryMu.Unlock()

	if logger, ok := categoryLoggers[category]; ok {
		return logger
	}
	logger := newFileLogger(LevelDebug, category)
	categoryLoggers[category] = logger
	return logger
}

func newFileLogger(level Level, category Category) *FileLogger {
	l := &FileLogger{
		level:      level,
		enableFile: true,
		category:   category,
	}

	logDir, err := resolveLogDirectory()
	if err != nil {
		log.Printf("Failed to resolve log directory: %v", err)
		return l
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Failed to create log directory %s: %v", logDir, err)
		return l
	}

	logPath := filepath.Join(logDir, logFileName(category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return l
	}

	l.file = file
	l.logger = log.New(file, "", 0) // we format lines ourselves
	return l
}

func resolveLogDirectory() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func logFileName(category Category) string {
	switch category {
	case CategoryDelivery:
		return "scenehub-delivery.log"
	default:
		return "scenehub-service.log"
	}
}

// SetLevel sets the minimum log level.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level || !l.enableFile {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [SERVICE] [Component] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "SCENEHUB"
	}
	category := strings.ToUpper(string(l.category))
	if category == "" {
		category = "SERVICE"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] [%s] %s:%d - %s\n",
		timestamp, levelToString(level), category, component, file, line, message)

	if l.logger != nil {
		l.logger.Print(logLine)
	}
	if os.Getenv("SCENEHUB_SERVER_MODE") == "deploy" {
		fmt.Print(logLine)
	}
}

// Debug logs a debug message.
func (l *FileLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *FileLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *FileLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *FileLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func levelToString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
