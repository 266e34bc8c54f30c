package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level. The empty string maps to Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat converts a string to a Format. The empty string maps to Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field is one structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F builds a Field. Shorthand for call sites with several fields.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var defaultLogger Logger

// Default returns the process-wide logger. Until SetDefault is called it
// writes Info and above as text to stderr.
func Default() Logger {
	if defaultLogger == nil {
		defaultLogger = New(Info, Text, os.Stderr)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

type stdLogger struct {
	level   Level
	format  Format
	context []Field
	sink    *log.Logger
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	return &stdLogger{
		level:  level,
		format: format,
		sink:   log.New(out, "", log.LstdFlags),
	}
}

func (l *stdLogger) With(fields ...Field) Logger {
	ctx := make([]Field, 0, len(l.context)+len(fields))
	ctx = append(ctx, l.context...)
	ctx = append(ctx, fields...)
	return &stdLogger{
		level:   l.level,
		format:  l.format,
		context: ctx,
		sink:    l.sink,
	}
}

func (l *stdLogger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *stdLogger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *stdLogger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *stdLogger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *stdLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.context)+len(fields))
	all = append(all, l.context...)
	all = append(all, fields...)
	if l.format == JSON {
		l.sink.Print(renderJSON(level, msg, all))
		return
	}
	l.sink.Print(renderText(level, msg, all))
}

func renderText(level Level, msg string, fields []Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level.String(), msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

func renderJSON(level Level, msg string, fields []Field) string {
	payload := map[string]any{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		payload[f.Key] = f.Value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("[ERROR] marshal log payload: %v", err)
	}
	return string(data)
}
