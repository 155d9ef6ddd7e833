// logger.go - Structured logging for the reputation ledger
//
// A Logger writes to the console and, optionally, to a log file. Warnings and
// above are duplicated into the audit file together with explicit Audit events.

package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with its output files.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// ParseLevel maps a config level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger. logFile and auditFile are optional.
func New(level string, logFile string, auditFile string) (*Logger, error) {
	l := &Logger{audit: zerolog.Nop()}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}}

	// Setup file logging if specified
	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}

	// Setup audit logging if specified
	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		l.audit = zerolog.New(f).With().Timestamp().Logger()
		writers = append(writers, &minLevelWriter{w: f, min: zerolog.WarnLevel})
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).With().Timestamp().Logger()
	return l, nil
}

// NewWriter creates a logger writing JSON lines to w, for tests and tools.
func NewWriter(w io.Writer, level string) *Logger {
	return &Logger{
		Logger: zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger(),
		audit:  zerolog.Nop(),
	}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// Close closes the logger's files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// Audit logs an audit event
func (l *Logger) Audit(event string, details map[string]interface{}) {
	l.audit.Log().Str("audit", event).Fields(details).Send()
}

// minLevelWriter forwards only events at or above min.
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m *minLevelWriter) Write(p []byte) (int, error) { return m.w.Write(p) }

func (m *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}
