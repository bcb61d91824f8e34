// log.go - Structured logging for the shielded pool daemon
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger is a configured zerolog logger together with the files it writes.
type Logger struct {
	zerolog.Logger
	files []*os.File
}

// Setup builds the process logger and installs it as the zerolog global.
// Console output is human readable unless json is set. When file is not empty
// every entry is also appended to it as JSON.
func Setup(level string, json bool, file string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var console io.Writer = os.Stderr
	if !json {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	l := &Logger{}
	out := console
	if file != "" {
		f, err := openAppend(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		out = zerolog.MultiLevelWriter(console, f)
	}

	l.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	zlog.Logger = l.Logger
	zerolog.SetGlobalLevel(lvl)
	return l, nil
}

// Close closes the log files.
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

// Audit records security relevant events, one JSON object per line.
type Audit struct {
	log  zerolog.Logger
	file *os.File
}

// NewAudit opens the audit log at path. An empty path discards events.
func NewAudit(path string) (*Audit, error) {
	if path == "" {
		return &Audit{log: zerolog.Nop()}, nil
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &Audit{log: zerolog.New(f).With().Timestamp().Logger(), file: f}, nil
}

// Event logs an audit event
func (a *Audit) Event(event string, details map[string]interface{}) {
	a.log.Log().Str("audit", event).Fields(details).Send()
}

// Close closes the audit file.
func (a *Audit) Close() error {
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
