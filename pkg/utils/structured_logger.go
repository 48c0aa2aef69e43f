package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogFormat selects how a StructuredLogger renders its entries.
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// LogEntry is one rendered log record. The recovery layer is the only
// consumer of StructuredLogger in this module; every per-component event
// it emits carries a "component" field naming the degraded-aware
// component (a storage group or a named recovery operation) the event
// concerns. Its shutdown notice carries no fields.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// StructuredLogger is a leveled logger that carries a set of context
// fields (set once via WithField/WithComponent) through to every entry,
// and can attach per-call fields on top. Unlike Logger, its message
// methods take a fields map instead of printf arguments.
type StructuredLogger struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	includeCaller   bool
	includeStack    bool
	componentLevels map[string]LogLevel
	rotator         *LogRotator
}

// StructuredLoggerConfig configures a StructuredLogger at construction.
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultStructuredLoggerConfig is what the recovery manager constructs
// its logger with when the caller doesn't supply one explicitly.
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// NewStructuredLogger builds a StructuredLogger from config, wiring up
// file rotation if config.Rotation is set.
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	sl := &StructuredLogger{
		level:           config.Level,
		output:          config.Output,
		format:          config.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   config.IncludeCaller,
		includeStack:    config.IncludeStack,
		componentLevels: make(map[string]LogLevel),
	}

	if config.Rotation != nil {
		rotator, err := NewLogRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("create log rotator: %w", err)
		}
		sl.rotator = rotator
		sl.output = rotator
	}

	return sl, nil
}

// derive copies sl with an updated field map, leaving everything else
// shared — the basis for WithField/WithFields/WithComponent.
func (sl *StructuredLogger) derive(fields map[string]interface{}) *StructuredLogger {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return &StructuredLogger{
		level:           sl.level,
		output:          sl.output,
		format:          sl.format,
		contextFields:   fields,
		includeCaller:   sl.includeCaller,
		includeStack:    sl.includeStack,
		componentLevels: sl.componentLevels,
		rotator:         sl.rotator,
	}
}

// WithField returns a copy of sl carrying one extra context field.
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	sl.mu.RLock()
	merged := make(map[string]interface{}, len(sl.contextFields)+1)
	for k, v := range sl.contextFields {
		merged[k] = v
	}
	sl.mu.RUnlock()
	merged[key] = value
	return sl.derive(merged)
}

// WithFields returns a copy of sl carrying the given extra context fields.
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	sl.mu.RLock()
	merged := make(map[string]interface{}, len(sl.contextFields)+len(fields))
	for k, v := range sl.contextFields {
		merged[k] = v
	}
	sl.mu.RUnlock()
	for k, v := range fields {
		merged[k] = v
	}
	return sl.derive(merged)
}

// WithComponent tags the logger with a "component" context field — the
// recovery manager's convention for naming the storage group or
// operation a degraded-state transition concerns.
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel overrides the effective level for entries whose
// "component" context field equals component.
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.componentLevels[component] = level
}

func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.level
}

func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if component, ok := sl.contextFields["component"]; ok {
		if name, ok := component.(string); ok {
			if threshold, exists := sl.componentLevels[name]; exists {
				return level >= threshold
			}
		}
	}
	return level >= sl.level
}

func (sl *StructuredLogger) emit(level LogLevel, message string, fields map[string]interface{}) {
	if !sl.isEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	sl.mu.RLock()
	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	sl.mu.RUnlock()

	for k, v := range fields {
		entry.Fields[k] = v
	}

	if sl.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	if sl.includeStack && (level == ERROR || level == FATAL) {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.Stack = string(buf[:n])
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, _ = sl.output.Write([]byte(sl.render(entry)))
}

func (sl *StructuredLogger) render(entry LogEntry) string {
	if sl.format == FormatJSON {
		if data, err := json.Marshal(entry); err == nil {
			return string(data) + "\n"
		}
	}
	return sl.renderText(entry)
}

func (sl *StructuredLogger) renderText(entry LogEntry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")

	if entry.Stack != "" {
		sb.WriteString("Stack trace:\n")
		sb.WriteString(entry.Stack)
		sb.WriteString("\n")
	}

	return sb.String()
}

func firstFieldMap(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.emit(TRACE, message, firstFieldMap(fields))
}

func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.emit(DEBUG, message, firstFieldMap(fields))
}

func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.emit(INFO, message, firstFieldMap(fields))
}

func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.emit(WARN, message, firstFieldMap(fields))
}

func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.emit(ERROR, message, firstFieldMap(fields))
}

// Fatal logs at FATAL and terminates the process. Only ever appropriate
// for an unrecoverable startup failure, never from request-serving code.
func (sl *StructuredLogger) Fatal(message string, fields ...map[string]interface{}) {
	sl.emit(FATAL, message, firstFieldMap(fields))
	os.Exit(1)
}

func (sl *StructuredLogger) Tracef(format string, args ...interface{}) {
	sl.emit(TRACE, fmt.Sprintf(format, args...), nil)
}

func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.emit(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.emit(INFO, fmt.Sprintf(format, args...), nil)
}

func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.emit(WARN, fmt.Sprintf(format, args...), nil)
}

func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.emit(ERROR, fmt.Sprintf(format, args...), nil)
}

func (sl *StructuredLogger) Fatalf(format string, args ...interface{}) {
	sl.emit(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Close releases the underlying rotator, if any.
func (sl *StructuredLogger) Close() error {
	if sl.rotator != nil {
		return sl.rotator.Close()
	}
	return nil
}

// Sync flushes the underlying rotator, if any.
func (sl *StructuredLogger) Sync() error {
	if sl.rotator != nil {
		return sl.rotator.Sync()
	}
	return nil
}
