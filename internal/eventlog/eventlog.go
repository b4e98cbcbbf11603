package eventlog

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/watchcap/internal/metrics"
)

// Severity of a diagnostic event. Matches the levels written to the sink.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Event is an immutable append-only diagnostic record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// Sink receives events in addition to the primary file sink (e.g. the sqlite
// history store). Sink errors are swallowed by Log, never surfaced to callers.
type Sink interface {
	Append(Event) error
}

// Log appends timestamped events to a durable file, one line per event:
//
//	2026-08-24T10:00:00.000Z INFO producer started pid=4242
//
// Record never returns an error to the caller; write failures are counted and
// otherwise dropped. Timestamps in the output stream are monotonically
// non-decreasing under the single-writer discipline enforced by the mutex.
type Log struct {
	mu      sync.Mutex
	w       io.WriteCloser
	last    time.Time
	sinks   []Sink
	dropped atomic.Uint64
	now     func() time.Time // test hook
}

// Config for the primary file sink. Rotation follows lumberjack semantics.
type Config struct {
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// New creates a Log writing to cfg.Path. An empty path yields a Log that only
// feeds the extra sinks (useful in tests).
func New(cfg Config, sinks ...Sink) *Log {
	var w io.WriteCloser
	if cfg.Path != "" {
		w = &lj.Logger{
			Filename:   cfg.Path,
			MaxSize:    valOr(cfg.MaxSizeMB, 10),
			MaxBackups: valOr(cfg.MaxBackups, 3),
			MaxAge:     valOr(cfg.MaxAgeDays, 7),
			Compress:   cfg.Compress,
		}
	}
	return &Log{w: w, sinks: sinks, now: time.Now}
}

// NewWithWriter creates a Log over an arbitrary writer.
func NewWithWriter(w io.WriteCloser, sinks ...Sink) *Log {
	return &Log{w: w, sinks: sinks, now: time.Now}
}

// Record appends one event. It never fails from the caller's point of view.
func (l *Log) Record(sev Severity, msg string) {
	l.mu.Lock()
	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	ev := Event{Timestamp: ts, Severity: sev, Message: msg}
	if l.w != nil {
		line := fmt.Sprintf("%s %s %s\n", ts.Format("2006-01-02T15:04:05.000Z07:00"), sev, msg)
		if _, err := io.WriteString(l.w, line); err != nil {
			l.dropped.Add(1)
			metrics.IncEventDropped()
		}
	}
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Append(ev); err != nil {
			l.dropped.Add(1)
			metrics.IncEventDropped()
		}
	}
}

// Recordf is Record with fmt.Sprintf formatting.
func (l *Log) Recordf(sev Severity, format string, args ...any) {
	l.Record(sev, fmt.Sprintf(format, args...))
}

func (l *Log) Info(msg string)                   { l.Record(SeverityInfo, msg) }
func (l *Log) Warn(msg string)                   { l.Record(SeverityWarn, msg) }
func (l *Log) Error(msg string)                  { l.Record(SeverityError, msg) }
func (l *Log) Infof(format string, args ...any)  { l.Recordf(SeverityInfo, format, args...) }
func (l *Log) Warnf(format string, args ...any)  { l.Recordf(SeverityWarn, format, args...) }
func (l *Log) Errorf(format string, args ...any) { l.Recordf(SeverityError, format, args...) }

// Dropped returns the number of events lost to sink failures.
func (l *Log) Dropped() uint64 { return l.dropped.Load() }

// Close closes the primary file sink. Extra sinks are owned by their creators.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
