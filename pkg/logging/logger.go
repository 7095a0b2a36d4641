package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"resourcecore/pkg/resilience"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogFormat represents different log output formats
type LogFormat int

const (
	TextFormat LogFormat = iota
	JSONFormat
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger provides structured logging for one component of the
// resource core. Every call site passes its fields directly — there
// is no global instance and no printf-style variant, since every
// caller in this codebase already has a typed error or a field map in
// hand by the time it logs.
type Logger struct {
	mu                sync.RWMutex
	level             LogLevel
	format            LogFormat
	output            io.Writer
	showCaller        bool
	component         string
	enableSanitizing  bool
	sensitivePatterns []*regexp.Regexp
}

// Config holds logger configuration
type Config struct {
	Level            LogLevel
	Format           LogFormat
	Output           io.Writer
	ShowCaller       bool
	Component        string
	EnableSanitizing bool
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:            InfoLevel,
		Format:           TextFormat,
		Output:           os.Stdout,
		ShowCaller:       false,
		Component:        "",
		EnableSanitizing: true,
	}
}

// Sensitive field patterns for detection. Open Finance payloads carry
// Brazilian CPF numbers alongside the generic PII the teacher's
// pattern set already covers.
var (
	sensitiveFieldPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|key|auth|authorization|credential|api[-_]?key|access[-_]?token|refresh[-_]?token|private[-_]?key|session[-_]?id|ssn|cpf|credit[-_]?card|cvv)`)

	tokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{20,}$`)

	creditCardPattern = regexp.MustCompile(`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`)

	ssnPattern = regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)

	// cpfPattern matches a Brazilian CPF, the taxpayer ID Open Finance
	// institutions key customer records by (###.###.###-## or 11 bare digits).
	cpfPattern = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)

	jwtPattern = regexp.MustCompile(`^[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*$`)

	base64SecretPattern = regexp.MustCompile(`^(?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)

	inlineSecretPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|key|auth|credential|api[-_]?key|access[-_]?token)\s*[:=]\s*[^\s]+`)
)

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	return &Logger{
		level:            config.Level,
		format:           config.Format,
		output:           config.Output,
		showCaller:       config.ShowCaller,
		component:        config.Component,
		enableSanitizing: config.EnableSanitizing,
		sensitivePatterns: []*regexp.Regexp{
			sensitiveFieldPattern,
			creditCardPattern,
			ssnPattern,
			cpfPattern,
		},
	}
}

// WithComponent returns a new logger tagging every entry with the
// given component name — used to give each pipeline stage (sync,
// validation, monitoring, discovery) its own identifiable log stream
// off one process-wide sink.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Logger{
		level:             l.level,
		format:            l.format,
		output:            l.output,
		showCaller:        l.showCaller,
		component:         component,
		enableSanitizing:  l.enableSanitizing,
		sensitivePatterns: l.sensitivePatterns,
	}
}

// SanitizeLogEntry sanitizes sensitive data from a log entry
func (l *Logger) SanitizeLogEntry(entry *LogEntry) {
	if !l.enableSanitizing {
		return
	}

	entry.Message = l.sanitizeString(entry.Message)

	if entry.Fields != nil {
		sanitizedFields := make(map[string]interface{}, len(entry.Fields))
		for key, value := range entry.Fields {
			if l.isSensitiveFieldName(key) {
				sanitizedFields[key] = "[REDACTED]"
			} else {
				sanitizedFields[key] = l.sanitizeValue(value)
			}
		}
		entry.Fields = sanitizedFields
	}
}

func (l *Logger) isSensitiveFieldName(fieldName string) bool {
	return sensitiveFieldPattern.MatchString(fieldName)
}

func (l *Logger) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return l.sanitizeString(v)
	case map[string]interface{}:
		sanitized := make(map[string]interface{}, len(v))
		for k, val := range v {
			if l.isSensitiveFieldName(k) {
				sanitized[k] = "[REDACTED]"
			} else {
				sanitized[k] = l.sanitizeValue(val)
			}
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, len(v))
		for i, val := range v {
			sanitized[i] = l.sanitizeValue(val)
		}
		return sanitized
	default:
		return value
	}
}

func (l *Logger) sanitizeString(s string) string {
	if s == "" {
		return s
	}

	if creditCardPattern.MatchString(s) {
		s = creditCardPattern.ReplaceAllString(s, "[CREDIT-CARD-REDACTED]")
	}

	if cpfPattern.MatchString(s) {
		s = cpfPattern.ReplaceAllString(s, "[CPF-REDACTED]")
	}

	if ssnPattern.MatchString(s) {
		s = ssnPattern.ReplaceAllString(s, "[SSN-REDACTED]")
	}

	if jwtPattern.MatchString(s) {
		return "[JWT-REDACTED]"
	}

	if len(s) >= 20 && tokenPattern.MatchString(s) {
		if base64SecretPattern.MatchString(s) {
			return "[TOKEN-REDACTED]"
		}
	}

	if inlineSecretPattern.MatchString(s) {
		s = inlineSecretPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := strings.SplitN(match, "=", 2)
			if len(parts) != 2 {
				parts = strings.SplitN(match, ":", 2)
			}
			if len(parts) == 2 {
				return parts[0] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return s
}

func (l *Logger) isEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !l.isEnabled(level) {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}

	if l.component != "" {
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields["component"] = l.component
	}

	if l.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	l.SanitizeLogEntry(&entry)

	var output string
	switch l.format {
	case JSONFormat:
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	default:
		output = l.formatText(entry)
	}

	l.output.Write([]byte(output))
}

func (l *Logger) formatText(entry LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05")

	parts := []string{timestamp, fmt.Sprintf("[%s]", entry.Level)}

	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("(%s)", entry.Caller))
	}

	parts = append(parts, entry.Message)

	result := strings.Join(parts, " ")

	if len(entry.Fields) > 0 {
		fieldParts := make([]string, 0, len(entry.Fields))
		for key, value := range entry.Fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", key, value))
		}
		result += fmt.Sprintf(" [%s]", strings.Join(fieldParts, " "))
	}

	return result + "\n"
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DebugLevel, message, firstOrNil(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(InfoLevel, message, firstOrNil(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WarnLevel, message, firstOrNil(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, message, firstOrNil(fields))
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// ResolveOutput turns the LoggingConfig.Output/.File pair from config
// into a writer: "console" (the default) goes to os.Stdout, "file"
// goes only to the named file, "both" writes to stdout and the file
// together.
func ResolveOutput(output, file string) (io.Writer, error) {
	switch output {
	case "", "console":
		return os.Stdout, nil
	case "file":
		if file == "" {
			return nil, fmt.Errorf("logging.file is required when logging.output is 'file'")
		}
		return CreateFileOutput(file)
	case "both":
		if file == "" {
			return nil, fmt.Errorf("logging.file is required when logging.output is 'both'")
		}
		return CreateCombinedOutput(file)
	default:
		return nil, fmt.Errorf("invalid logging.output: %s", output)
	}
}

// CreateFileOutput opens filename for appending, creating its parent
// directory if needed.
func CreateFileOutput(filename string) (io.Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}

// CreateCombinedOutput writes to both stdout and filename.
func CreateCombinedOutput(filename string) (io.Writer, error) {
	fileWriter, err := CreateFileOutput(filename)
	if err != nil {
		return nil, err
	}

	return io.MultiWriter(os.Stdout, fileWriter), nil
}

// FieldsForError surfaces a *resilience.ClassifiedError's Kind,
// Component, and HTTPStatus as log fields, merging in base (which may
// be nil) and setting the "error" key to err's message. Call sites
// holding a plain error still get the "error" field; ones holding a
// classified error (or wrapping one) additionally get the
// classification that drove the retry/admission decision, so an
// on-call engineer can tell an upstream timeout from a persistence
// failure without re-deriving it from the message text.
func FieldsForError(err error, base map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(base)+4)
	for k, v := range base {
		fields[k] = v
	}

	if err == nil {
		return fields
	}
	fields["error"] = err.Error()

	var classified *resilience.ClassifiedError
	if errors.As(err, &classified) {
		fields["errorKind"] = classified.Kind.String()
		fields["errorComponent"] = classified.Component
		if classified.HTTPStatus != 0 {
			fields["httpStatus"] = classified.HTTPStatus
		}
	}

	return fields
}
