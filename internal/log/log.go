// Package log provides structured logging for timeline.
// Entries carry a level, a category and key=value fields. Logging is off
// until Init (or InitWriter) is called, which the CLI does for --debug or
// TIMELINE_DEBUG.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
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

// ParseLevel maps a level name (case-insensitive) to a Level.
// Unknown names map to LevelDebug.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelDebug
	}
}

// Category groups related log messages.
type Category string

const (
	CatTracing Category = "tracing" // Capture lifecycle (start/stop)
	CatIO      Category = "io"      // Stream reads and release
	CatCDP     Category = "cdp"     // Protocol connection and event dispatch
	CatBrowser Category = "browser" // Browser launch and page targets
	CatConfig  Category = "config"  // Configuration loading
	CatCapture Category = "capture" // Metadata and history persistence
	CatUI      Category = "ui"      // Recorder view
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   io.Writer
	buffer   *RingBuffer
	enabled  bool
	minLevel Level
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init opens path for appending and installs it as the global log sink.
// Returns a cleanup function to close the log file.
func Init(path string, bufferSize int) (func(), error) {
	var initErr error
	once.Do(func() {
		var f *os.File
		f, initErr = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: path is user-controlled debug log path
		if initErr != nil {
			return
		}
		defaultLogger = newLogger(f, f, bufferSize)
	})
	if initErr != nil {
		return nil, initErr
	}
	if defaultLogger == nil {
		return nil, fmt.Errorf("logger initialization failed or already attempted")
	}
	return closeDefault, nil
}

// InitWriter installs w as the global log sink. Used when logging to stderr.
func InitWriter(w io.Writer, bufferSize int) {
	defaultLogger = newLogger(w, nil, bufferSize)
}

// InitWithTeaLog uses tea.LogToFile for initialization. The recorder view
// owns the terminal while it runs, so interactive captures log through it.
func InitWithTeaLog(path string, prefix string, bufferSize int) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	defaultLogger = newLogger(f, f, bufferSize)
	return closeDefault, nil
}

func newLogger(w io.Writer, c io.Closer, bufferSize int) *Logger {
	return &Logger{
		closer:   c,
		writer:   w,
		buffer:   NewRingBuffer(bufferSize),
		enabled:  true,
		minLevel: LevelDebug,
	}
}

func closeDefault() {
	if defaultLogger != nil && defaultLogger.closer != nil {
		_ = defaultLogger.closer.Close()
	}
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.enabled = enabled
		defaultLogger.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	if defaultLogger == nil {
		return
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if !defaultLogger.enabled || level < defaultLogger.minLevel {
		return
	}

	entry := format(time.Now(), level, cat, msg, fields)

	if defaultLogger.writer != nil {
		_, _ = io.WriteString(defaultLogger.writer, entry)
	}
	if defaultLogger.buffer != nil {
		defaultLogger.buffer.Add(entry)
	}
}

// format renders one entry:
// 2026-01-02T10:45:00 [ERROR] [tracing] message key=value key2=value2
func format(ts time.Time, level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", ts.Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteByte('\n')
	return b.String()
}

// GetRecentLogs returns recent log entries from the ring buffer.
func GetRecentLogs(count int) []string {
	if defaultLogger == nil || defaultLogger.buffer == nil {
		return nil
	}
	return defaultLogger.buffer.GetLast(count)
}

// ClearBuffer clears the ring buffer.
func ClearBuffer() {
	if defaultLogger == nil || defaultLogger.buffer == nil {
		return
	}
	defaultLogger.buffer.Clear()
}
