package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel accepts debug, info, warn and error. Unknown values are info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Leveled drops messages below its level and tags the rest.
type Leveled struct {
	*log.Logger
	level Level
}

func NewLeveled(l *log.Logger, level Level) *Leveled {
	return &Leveled{Logger: l, level: level}
}

func (l *Leveled) Enabled(level Level) bool { return level >= l.level }

func (l *Leveled) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, "DEBUG", format, args) }
func (l *Leveled) Infof(format string, args ...interface{})  { l.logf(LevelInfo, "INFO", format, args) }
func (l *Leveled) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, "WARN", format, args) }
func (l *Leveled) Errorf(format string, args ...interface{}) { l.logf(LevelError, "ERROR", format, args) }

func (l *Leveled) logf(level Level, tag, format string, args []interface{}) {
	if !l.Enabled(level) {
		return
	}
	_ = l.Output(3, tag+" "+fmt.Sprintf(format, args...))
}

// Sink is the process-wide log destination: stdout, mirrored to a rotating
// file when one is configured.
type Sink struct {
	io.Writer
	file io.WriteCloser
}

// OpenSink builds the destination for path. An empty path logs to stdout only.
func OpenSink(path string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return &Sink{Writer: os.Stdout}, nil
	}
	f, err := NewRotatingWriter(path, 0)
	if err != nil {
		return nil, err
	}
	return &Sink{Writer: io.MultiWriter(os.Stdout, f), file: f}, nil
}

// Logger returns a logger with the given component prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
