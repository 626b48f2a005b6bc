// Package logging provides leveled console output for pulsarkit clients.
// Only producers and the supervisor log; the error taxonomy and the shared
// slot stay silent.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string ("debug", "INFO", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger writes leveled lines to an output, default stdout.
// Loggers derived with WithComponent share the parent's output lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger at INFO level writing to stdout.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Client events ---

// ErrorTaken logs an error the supervisor drained from the shared slot.
// The message is the error's display string, unchanged.
func (l *Logger) ErrorTaken(kind, message string) {
	l.Error("client_error", map[string]interface{}{
		"kind":  kind,
		"error": message,
	})
}

// Connected logs an established connection.
func (l *Logger) Connected(url string) {
	l.Info("connected", map[string]interface{}{
		"url": url,
	})
}

// Disconnected logs a closed connection.
func (l *Logger) Disconnected(reason string) {
	l.Warn("disconnected", map[string]interface{}{
		"reason": reason,
	})
}

// HeartbeatMissed logs a peer whose heartbeats stopped arriving.
func (l *Logger) HeartbeatMissed(peer string, since time.Duration) {
	l.Warn("heartbeat_missed", map[string]interface{}{
		"peer":  peer,
		"since": since.String(),
	})
}
