package device

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/watchcap/internal/metrics"
)

// Default monitor timings.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Transition reports a health state change between two consecutive checks.
type Transition struct {
	From   HealthState
	To     HealthState
	At     time.Time
	Reason string // probe error text when degrading, empty when recovering
}

// Monitor polls a device handle's liveness on a fixed interval and reports
// UP/DOWN transitions. Check failures are never fatal to the monitor itself;
// they are reported outward as a state value.
type Monitor struct {
	handle   Handle
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu    sync.Mutex
	state HealthState

	transitions chan Transition
}

func NewMonitor(h Handle, p Prober, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Monitor{
		handle:      h,
		prober:      p,
		interval:    interval,
		timeout:     timeout,
		state:       Unknown,
		transitions: make(chan Transition, 16),
	}
}

// Transitions returns the channel on which state changes are delivered.
func (m *Monitor) Transitions() <-chan Transition { return m.transitions }

// State returns the last observed health state.
func (m *Monitor) State() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Check performs a single bounded health check and updates the observed state.
func (m *Monitor) Check(ctx context.Context) HealthState {
	st, reason := m.checkOnce(ctx)
	m.observe(st, reason)
	return st
}

func (m *Monitor) checkOnce(ctx context.Context) (HealthState, string) {
	if !m.handle.Exists() {
		return Unreachable, "node missing"
	}
	if m.prober == nil {
		return Healthy, ""
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.prober.Probe(pctx, m.handle); err != nil {
		return Unresponsive, err.Error()
	}
	return Healthy, ""
}

// observe records the new state and emits a transition when it changed.
// Transitions, not individual polls, are what reach the event log.
func (m *Monitor) observe(st HealthState, reason string) {
	m.mu.Lock()
	prev := m.state
	m.state = st
	m.mu.Unlock()
	if prev == st {
		return
	}
	for _, s := range []HealthState{Healthy, Unreachable, Unresponsive} {
		metrics.SetDeviceHealth(m.handle.Path, s.String(), s == st)
	}
	metrics.IncHealthTransition(m.handle.Path, prev.String(), st.String())
	tr := Transition{From: prev, To: st, At: time.Now(), Reason: reason}
	select {
	case m.transitions <- tr:
	default:
		// consumer stalled; drop rather than block the poll loop
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	// immediate first check so consumers learn the initial state promptly
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
