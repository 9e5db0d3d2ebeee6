package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	// TRACE level for per-chunk relay details
	TRACE LogLevel = iota
	// DEBUG level for detailed troubleshooting information
	DEBUG
	// INFO level for general operational information
	INFO
	// WARN level for non-critical issues
	WARN
	// ERROR level for error conditions
	ERROR
	// FATAL level for critical errors that prevent operation
	FATAL
)

// SystemSource tags access-log lines that do not belong to a client.
const SystemSource = "SYSTEM"

// accessTimeFormat is the timestamp prefix of access-log lines.
const accessTimeFormat = "2006-01-02 15:04:05"

var (
	currentLevel atomic.Int32
	// stdLogger is the standard logger instance
	stdLogger = log.New(os.Stdout, "", log.LstdFlags)

	// outputMu serializes access-log lines written by concurrent handlers.
	outputMu     sync.Mutex
	accessOutput io.Writer = os.Stdout

	// noiseMarkers are substrings of requests browsers fire in the background.
	noiseMarkers = []string{"detectportal", "push.services"}

	exitFunc = os.Exit
)

func init() {
	currentLevel.Store(int32(INFO))
}

// SetLevel sets the current logging level
func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

// GetLevel returns the current logging level
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

func IsLevelEnabled(level LogLevel) bool {
	return level >= GetLevel()
}

// SetOutput redirects levelled and access-log output to w.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	accessOutput = w
	outputMu.Unlock()
	stdLogger.SetOutput(w)
}

// GetLevelFromString converts a string level to LogLevel
func GetLevelFromString(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// levelToString converts a LogLevel to its string representation
func levelToString(level LogLevel) string {
	switch level {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// logMessage logs a message at the specified level
func logMessage(level LogLevel, format string, v ...any) {
	if !IsLevelEnabled(level) {
		return
	}

	msg := fmt.Sprintf(format, v...)
	stdLogger.Printf("[%s] %s", levelToString(level), msg)
}

// Trace logs a trace message
// Arguments are handled in the manner of [fmt.Printf].
func Trace(format string, v ...any) {
	logMessage(TRACE, format, v...)
}

// Debug logs a debug message
// Arguments are handled in the manner of [fmt.Printf].
func Debug(format string, v ...any) {
	logMessage(DEBUG, format, v...)
}

// Info logs an informational message
// Arguments are handled in the manner of [fmt.Printf].
func Info(format string, v ...any) {
	logMessage(INFO, format, v...)
}

// Warn logs a warning message
// Arguments are handled in the manner of [fmt.Printf].
func Warn(format string, v ...any) {
	logMessage(WARN, format, v...)
}

// Error logs an error message
// Arguments are handled in the manner of [fmt.Printf].
func Error(format string, v ...any) {
	logMessage(ERROR, format, v...)
}

// Fatal logs a fatal message and exits
// Arguments are handled in the manner of [fmt.Printf].
func Fatal(format string, v ...any) {
	logMessage(FATAL, format, v...)
	exitFunc(1)
}

// Log writes one access-log line for source, usually a client IP or
// SystemSource. Lines mentioning captive-portal checks or push-service
// endpoints are dropped.
func Log(source, msg string) {
	if isNoise(msg) {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format(accessTimeFormat), source, msg)

	outputMu.Lock()
	defer outputMu.Unlock()
	_, _ = io.WriteString(accessOutput, line)
}

// Logf is Log with [fmt.Sprintf] formatting.
func Logf(source, format string, v ...any) {
	Log(source, fmt.Sprintf(format, v...))
}

func isNoise(msg string) bool {
	for _, marker := range noiseMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRequestID adds a request ID to the log message
// Arguments are handled in the manner of [fmt.Printf].
func WithRequestID(requestID, format string, v ...any) string {
	return fmt.Sprintf("[%s] %s", requestID, fmt.Sprintf(format, v...))
}
