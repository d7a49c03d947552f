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

// Level controls which messages a Logger emits.
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
	}
	return "UNKNOWN"
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a minimal leveled logger with structured fields.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

// New creates a logger writing to stdout at the given level.
func New(level Level) *Logger {
	return &Logger{out: os.Stdout, level: level}
}

// NewWithOutput creates a logger writing to the given writer. Used by tests.
func NewWithOutput(level Level, out io.Writer) *Logger {
	return &Logger{out: out, level: level}
}

type record struct {
	keys   []string
	fields map[string]interface{}
}

// Option attaches structured data to a log record.
type Option func(*record)

// WithField attaches a single key/value pair.
func WithField(key string, value interface{}) Option {
	return func(r *record) {
		if _, ok := r.fields[key]; !ok {
			r.keys = append(r.keys, key)
		}
		r.fields[key] = value
	}
}

// WithFields attaches a map of key/value pairs. Keys are emitted sorted so
// output is stable.
func WithFields(fields map[string]interface{}) Option {
	return func(r *record) {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := r.fields[k]; !ok {
				r.keys = append(r.keys, k)
			}
			r.fields[k] = fields[k]
		}
	}
}

func (l *Logger) Debug(msg string, opts ...Option) { l.log(LevelDebug, msg, opts...) }
func (l *Logger) Info(msg string, opts ...Option)  { l.log(LevelInfo, msg, opts...) }
func (l *Logger) Warn(msg string, opts ...Option)  { l.log(LevelWarn, msg, opts...) }
func (l *Logger) Error(msg string, opts ...Option) { l.log(LevelError, msg, opts...) }

func (l *Logger) log(level Level, msg string, opts ...Option) {
	if level < l.level {
		return
	}

	r := record{fields: make(map[string]interface{})}
	for _, opt := range opts {
		opt(&r)
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, k := range r.keys {
		fmt.Fprintf(&b, " %s=%v", k, r.fields[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}
