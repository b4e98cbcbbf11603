package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/watchcap/internal/metrics"
)

// PolicyState is the recovery state machine state.
type PolicyState string

const (
	PolicyIdle       PolicyState = "idle"
	PolicyRecovering PolicyState = "recovering"
	PolicyHalted     PolicyState = "halted"
)

// Decision is the policy's answer to a crash event.
type Decision int

const (
	// DecisionRetry: wait the returned backoff, then restart the pipeline.
	DecisionRetry Decision = iota
	// DecisionHalt: the crash budget is exhausted; stop automatic recovery.
	DecisionHalt
)

// Default policy tunables. All of them are configuration, not constants, at
// the supervisor level; these are only the fallback values.
const (
	DefaultCrashThreshold  = 3
	DefaultBackoffInitial  = 1 * time.Second
	DefaultBackoffMax      = 30 * time.Second
	DefaultStabilityWindow = 120 * time.Second
)

// Policy decides whether and when to retry after a crash. crashCount counts
// crashes since the last clean exit, stability-window reset, or operator
// reset; once it exceeds the threshold the policy is Halted and stays there
// until Reset. Exponential backoff grows per crash and is rewound whenever
// crash history is forgiven.
//
// Policy is not goroutine-safe: it is owned by the supervisor's control loop.
type Policy struct {
	threshold  int
	bo         *backoff.ExponentialBackOff
	state      PolicyState
	crashCount int
	lastCrash  time.Time
	now        func() time.Time
}

func NewPolicy(threshold int, initial, max time.Duration) *Policy {
	if threshold <= 0 {
		threshold = DefaultCrashThreshold
	}
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0 // the crash threshold, not elapsed time, bounds retries
	bo.Reset()
	p := &Policy{threshold: threshold, bo: bo, now: time.Now}
	p.setState(PolicyIdle)
	return p
}

// OnCrash records one crash and decides the next step. The returned duration
// is the backoff to wait before restarting (meaningful only for DecisionRetry).
func (p *Policy) OnCrash() (Decision, time.Duration) {
	if p.state == PolicyHalted {
		return DecisionHalt, 0
	}
	p.crashCount++
	p.lastCrash = p.now()
	metrics.SetCrashCount(p.crashCount)
	if p.crashCount > p.threshold {
		p.setState(PolicyHalted)
		return DecisionHalt, 0
	}
	p.setState(PolicyRecovering)
	return DecisionRetry, p.bo.NextBackOff()
}

// OnRecovered marks a completed recovery cycle: the pipeline is up again.
func (p *Policy) OnRecovered() {
	if p.state == PolicyRecovering {
		p.setState(PolicyIdle)
	}
}

// OnCleanExit forgives all crash history after an orderly exit. Halted is a
// latch: once entered, only Reset restores the budget.
func (p *Policy) OnCleanExit() {
	if p.state == PolicyHalted {
		return
	}
	p.crashCount = 0
	p.bo.Reset()
	metrics.SetCrashCount(0)
	p.setState(PolicyIdle)
}

// OnStable forgives crash history after the stability window elapsed with the
// pipeline continuously up. This keeps transient early failures from
// permanently lowering the retry budget. A no-op while Halted.
func (p *Policy) OnStable() {
	if p.state == PolicyHalted {
		return
	}
	p.crashCount = 0
	p.bo.Reset()
	metrics.SetCrashCount(0)
}

// Reset is the external operator reset out of Halted (or any state).
func (p *Policy) Reset() {
	p.crashCount = 0
	p.bo.Reset()
	metrics.SetCrashCount(0)
	p.setState(PolicyIdle)
}

func (p *Policy) State() PolicyState   { return p.state }
func (p *Policy) CrashCount() int      { return p.crashCount }
func (p *Policy) LastCrash() time.Time { return p.lastCrash }
func (p *Policy) Threshold() int       { return p.threshold }

func (p *Policy) setState(s PolicyState) {
	p.state = s
	for _, st := range []PolicyState{PolicyIdle, PolicyRecovering, PolicyHalted} {
		metrics.SetPolicyState(string(st), st == s)
	}
}
