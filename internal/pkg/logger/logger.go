// Package logger provides structured JSON logging with email redaction.
//
// The subscription core treats plaintext addresses as secrets; every value
// passing through this logger is scrubbed so an address can never leak into
// log storage unmasked.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger writes structured JSON entries with PII redaction.
type Logger struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
}

var defaultLogger = &Logger{level: INFO, out: os.Stderr}

// SetLevel sets the minimum level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetOutput redirects the default logger, used by tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

// Audit emits an INFO-level entry tagged audit=true. Used for operator-facing
// trails such as opt-out reasons.
func Audit(event string, fields ...interface{}) {
	defaultLogger.log(INFO, event, append([]interface{}{"audit", "true"}, fields...)...)
}

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		entry[key] = redactValue(key, fmt.Sprintf("%v", fields[i+1]))
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "address") || strings.Contains(k, "recipient") {
		return RedactEmail(val)
	}
	// Scrub addresses embedded in generic fields (error strings, reasons).
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
