package watchcap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/watchcap/internal/config"
	"github.com/loykin/watchcap/internal/device"
	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/metrics"
	"github.com/loykin/watchcap/internal/proc"
	iapi "github.com/loykin/watchcap/internal/server"
	"github.com/loykin/watchcap/internal/store"
	"github.com/loykin/watchcap/internal/store/sqlite"
	"github.com/loykin/watchcap/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type Status = supervisor.Status

type DeviceHandle = device.Handle

type ProcSpec = proc.Spec

type EventLog = eventlog.Log

type EventLogConfig = eventlog.Config

type EventSink = eventlog.Sink

type HistoryStore = store.Store

var (
	ErrConfig = supervisor.ErrConfig
	ErrHalted = supervisor.ErrHalted
)

// Supervisor is a thin facade over the internal supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(c Config, elog *EventLog, log *slog.Logger) (*Supervisor, error) {
	inner, err := supervisor.New(c, elog, log)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Run(ctx context.Context) error { return s.inner.Run(ctx) }
func (s *Supervisor) Status() Status                { return s.inner.Status() }
func (s *Supervisor) Reset() error                  { return s.inner.Reset() }
func (s *Supervisor) Stop() error                   { return s.inner.Stop() }

// NewEventLog builds the diagnostics event log with optional extra sinks.
func NewEventLog(c EventLogConfig, sinks ...EventSink) *EventLog {
	return eventlog.New(c, sinks...)
}

// NewHistoryStore opens the sqlite event-history store at path and ensures its
// schema.
func NewHistoryStore(ctx context.Context, path string) (HistoryStore, error) {
	st, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// HistorySink adapts a history store to an event log sink.
func HistorySink(st HistoryStore) EventSink { return store.Sink{Store: st} }

// LoadConfig parses the TOML config file at path.
func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the control API for the given
// supervisor. history may be nil.
func NewHTTPServer(addr, basePath string, s *Supervisor, history store.Store) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner, history)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
