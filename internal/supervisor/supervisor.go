package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/watchcap/internal/device"
	"github.com/loykin/watchcap/internal/env"
	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/metrics"
	"github.com/loykin/watchcap/internal/proc"
)

// ErrConfig marks configuration errors fatal at startup; the supervisor never
// enters its loop when one is returned.
var ErrConfig = errors.New("invalid configuration")

// ErrHalted is returned by Run when the supervisor was stopped while in the
// Halted state, so callers can exit non-zero.
var ErrHalted = errors.New("recovery exhausted; supervisor halted")

// Config holds everything the supervisor needs. All policy values are
// operator configuration; zero values fall back to the package defaults.
type Config struct {
	Device          device.Handle
	ProbeCommand    string
	PollInterval    time.Duration
	ProbeTimeout    time.Duration
	Producer        proc.Spec
	Consumer        proc.Spec
	CrashThreshold  int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	StabilityWindow time.Duration
	LockFile        string
	GlobalEnv       []string
}

// Validate checks the parts that make startup impossible.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Path) == "" {
		return fmt.Errorf("device path required: %w", ErrConfig)
	}
	if strings.TrimSpace(c.Producer.Command) == "" {
		return fmt.Errorf("producer command required: %w", ErrConfig)
	}
	if strings.TrimSpace(c.Consumer.Command) == "" {
		return fmt.Errorf("consumer command required: %w", ErrConfig)
	}
	return nil
}

// Status is the first-class queryable view of the supervisor. Operators never
// need to parse logs to know whether the system is healthy, recovering, or
// halted.
type Status struct {
	Policy         PolicyState `json:"policy"`
	CrashCount     int         `json:"crash_count"`
	CrashThreshold int         `json:"crash_threshold"`
	LastCrash      time.Time   `json:"last_crash,omitempty"`
	Device         string      `json:"device"`
	DeviceHealth   string      `json:"device_health"`
	Producer       proc.Status `json:"producer"`
	Consumer       proc.Status `json:"consumer"`
	StartedAt      time.Time   `json:"started_at"`
	EventsDropped  uint64      `json:"events_dropped"`
}

type ctrlType int

const (
	ctrlStatus ctrlType = iota
	ctrlReset
	ctrlStop
)

type ctrlMsg struct {
	typ    ctrlType
	status chan Status
	reply  chan error
}

// Supervisor is the single long-lived control loop supervising the capture
// pipeline: device health monitor, producer manager, consumer watchdog and
// recovery policy. All mutable recovery state is owned by the Run goroutine;
// the outside talks to it over the control channel.
type Supervisor struct {
	cfg      Config
	elog     *eventlog.Log
	log      *slog.Logger
	policy   *Policy
	producer *Producer
	consumer *proc.Process
	watchdog *Watchdog
	monitor  *device.Monitor
	ctrl     chan ctrlMsg

	consumerEnv []string

	startedAt time.Time
	running   atomic.Bool
	cached    atomic.Pointer[Status] // last snapshot published by the loop
}

// New validates cfg and assembles a supervisor. It does not start anything.
func New(cfg Config, elog *eventlog.Log, log *slog.Logger) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Producer.Name == "" {
		cfg.Producer.Name = "producer"
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = "consumer"
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = DefaultStabilityWindow
	}
	if cfg.ProbeCommand == "" {
		cfg.ProbeCommand = device.DefaultProbeCommand
	}
	if log == nil {
		log = slog.Default()
	}

	envM := env.New()
	envM.SetAll(cfg.GlobalEnv)

	s := &Supervisor{
		cfg:      cfg,
		elog:     elog,
		log:      log,
		policy:   NewPolicy(cfg.CrashThreshold, cfg.BackoffInitial, cfg.BackoffMax),
		producer: newProducer(cfg.Producer, envM.Merge(cfg.Producer.Env), elog),
		consumer: proc.New(cfg.Consumer),
		monitor:  device.NewMonitor(cfg.Device, device.CommandProber{Command: cfg.ProbeCommand}, cfg.PollInterval, cfg.ProbeTimeout),
		ctrl:     make(chan ctrlMsg, 16),
	}
	s.watchdog = newWatchdog(s.consumer)
	s.consumerEnv = envM.Merge(cfg.Consumer.Env)
	s.publishStatus()
	return s, nil
}

// Run drives the supervisor until ctx is cancelled or Stop is called. It
// acquires the single-instance lock, resolves the device, launches the
// pipeline, then serves the control loop. A configuration failure returns
// before any background task starts.
func (s *Supervisor) Run(ctx context.Context) error {
	// Single-writer liveness marker: refuse to run two supervisors against
	// one device.
	if s.cfg.LockFile != "" {
		lock, err := proc.AcquireLock(s.cfg.LockFile, s.cfg.Device.Path)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	// Resolve once at startup; a handle that never resolves is fatal before
	// any background task exists.
	h, err := device.Resolve(s.cfg.Device.Path, s.cfg.Device.VendorID, s.cfg.Device.ProductID)
	if err != nil {
		s.elog.Errorf("configuration error: device handle %s: %v", s.cfg.Device.Path, err)
		return fmt.Errorf("resolve device %s: %w", s.cfg.Device.Path, ErrConfig)
	}
	s.cfg.Device = h

	mctx, mcancel := context.WithCancel(ctx)
	defer mcancel()
	go s.monitor.Run(mctx)

	s.startedAt = time.Now()
	s.running.Store(true)
	defer s.running.Store(false)
	s.elog.Infof("supervisor started device=%s threshold=%d stability=%s",
		h, s.policy.Threshold(), s.cfg.StabilityWindow)

	ls := &loopState{}
	if err := s.producer.Start(); err != nil {
		// Launch failure counts as an immediate crash for policy purposes.
		s.handleCrash(s.cfg.Producer.Name, proc.ExitResult{State: proc.StateExitedCrashed, Code: -1, Err: err}, ls)
	}
	if err := s.startConsumer(); err != nil {
		s.handleCrash(s.cfg.Consumer.Name, proc.ExitResult{State: proc.StateExitedCrashed, Code: -1, Err: err}, ls)
	}
	ls.prodDone = s.producer.WaitDone()
	ls.consDone = s.watchdog.Done()
	s.publishStatus()

	return s.loop(ctx, ls)
}

// loopState holds the channels the select loop rotates through. Exit channels
// are nilled once consumed so a closed channel does not spin the loop.
type loopState struct {
	prodDone    <-chan struct{}
	consDone    <-chan struct{}
	recoverC    <-chan time.Time
	stabilityC  <-chan time.Time
	stabilityAt time.Time // producer StartedAt captured when the window was armed
}

func (s *Supervisor) loop(ctx context.Context, ls *loopState) error {
	for {
		select {
		case <-ctx.Done():
			return s.shutdown("context cancelled")

		case tr := <-s.monitor.Transitions():
			s.handleHealthTransition(tr)

		case <-ls.prodDone:
			ls.prodDone = nil
			s.handleProducerExit(ls)

		case <-ls.consDone:
			ls.consDone = nil
			if done, err := s.handleConsumerExit(ls); done {
				return err
			}

		case <-ls.recoverC:
			ls.recoverC = nil
			s.recoverPipeline(ctx, ls)

		case <-ls.stabilityC:
			ls.stabilityC = nil
			s.handleStabilityWindow(ls)

		case msg := <-s.ctrl:
			switch msg.typ {
			case ctrlStatus:
				msg.status <- s.snapshot()
			case ctrlReset:
				s.handleReset(ls)
				msg.reply <- nil
			case ctrlStop:
				err := s.shutdown("operator stop")
				msg.reply <- err
				return err
			}
		}
		s.publishStatus()
	}
}

func (s *Supervisor) handleHealthTransition(tr device.Transition) {
	switch tr.To {
	case device.Healthy:
		s.elog.Infof("device %s %s -> %s", s.cfg.Device.Path, tr.From, tr.To)
	default:
		if tr.Reason != "" {
			s.elog.Warnf("device %s %s -> %s: %s", s.cfg.Device.Path, tr.From, tr.To, tr.Reason)
		} else {
			s.elog.Warnf("device %s %s -> %s", s.cfg.Device.Path, tr.From, tr.To)
		}
	}
}

func (s *Supervisor) handleProducerExit(ls *loopState) {
	if s.producer.StopRequested() {
		return // deliberate stop; the stopper handles state
	}
	exit := s.producer.LastExit()
	if exit.Crashed() {
		s.handleCrash(s.cfg.Producer.Name, exit, ls)
		return
	}
	if s.policy.State() == PolicyHalted {
		// Halted latches until an operator reset; no relaunch, no forgiveness.
		s.elog.Warnf("producer exited cleanly while halted; awaiting operator reset")
		return
	}
	// Clean producer exit: forgive crash history, then bring the feed back.
	// The stream must continue; a deliberate stop arrives via the control
	// channel, not through the child exiting.
	s.policy.OnCleanExit()
	s.elog.Infof("producer exited cleanly; relaunching")
	s.armRecovery(ls, s.backoffFloor())
}

// handleConsumerExit returns done=true when the supervisor should terminate.
func (s *Supervisor) handleConsumerExit(ls *loopState) (bool, error) {
	if s.watchdog.StopRequested() {
		return false, nil
	}
	exit := s.watchdog.ExitResult()
	if exit.Crashed() {
		s.handleCrash(s.cfg.Consumer.Name, exit, ls)
		return false, nil
	}
	// Clean consumer exit is the orderly end of the session.
	s.policy.OnCleanExit()
	s.elog.Infof("consumer exited cleanly; shutting down")
	return true, s.shutdown("consumer exited cleanly")
}

// handleCrash feeds one crash into the policy and schedules recovery or halts.
func (s *Supervisor) handleCrash(name string, exit proc.ExitResult, ls *loopState) {
	metrics.IncCrash(name)
	if exit.Signal != "" {
		s.elog.Warnf("%s crashed signal=%s code=%d", name, exit.Signal, exit.Code)
	} else {
		s.elog.Warnf("%s crashed code=%d", name, exit.Code)
	}
	dec, delay := s.policy.OnCrash()
	if dec == DecisionHalt {
		s.elog.Errorf("crash threshold exceeded (%d > %d): automatic recovery halted, operator reset required",
			s.policy.CrashCount(), s.policy.Threshold())
		return
	}
	s.elog.Warnf("recovery scheduled in %s (crash %d/%d)", delay.Round(time.Millisecond), s.policy.CrashCount(), s.policy.Threshold())
	s.armRecovery(ls, delay)
}

func (s *Supervisor) armRecovery(ls *loopState, delay time.Duration) {
	if ls == nil || s.policy.State() == PolicyHalted {
		return
	}
	if ls.recoverC != nil {
		return // a cycle is already pending; the restart will cover both exits
	}
	ls.recoverC = time.After(delay)
}

// recoverPipeline verifies device health, then restarts the producer and
// relaunches the consumer if it is down. An unhealthy device defers the cycle
// by one poll interval without consuming crash budget.
func (s *Supervisor) recoverPipeline(ctx context.Context, ls *loopState) {
	if s.policy.State() == PolicyHalted {
		return
	}
	if st := s.monitor.Check(ctx); st != device.Healthy {
		s.elog.Warnf("device %s %s; deferring recovery", s.cfg.Device.Path, st)
		ls.recoverC = time.After(s.pollInterval())
		return
	}
	if err := s.producer.Restart(); err != nil {
		s.handleCrash(s.cfg.Producer.Name, proc.ExitResult{State: proc.StateExitedCrashed, Code: -1, Err: err}, ls)
		return
	}
	if !s.consumer.Alive() {
		if err := s.startConsumer(); err != nil {
			s.handleCrash(s.cfg.Consumer.Name, proc.ExitResult{State: proc.StateExitedCrashed, Code: -1, Err: err}, ls)
			return
		}
	}
	ls.prodDone = s.producer.WaitDone()
	ls.consDone = s.watchdog.Done()
	s.policy.OnRecovered()

	// Arm the stability window: crash history is forgiven when the producer
	// stays up continuously past it.
	ls.stabilityAt = s.producer.Status().StartedAt
	ls.stabilityC = time.After(s.cfg.StabilityWindow)
}

func (s *Supervisor) handleStabilityWindow(ls *loopState) {
	st := s.producer.Status()
	if st.State == proc.StateRunning && st.StartedAt.Equal(ls.stabilityAt) {
		if s.policy.CrashCount() > 0 {
			s.elog.Infof("stable for %s; crash history forgiven", s.cfg.StabilityWindow)
		}
		s.policy.OnStable()
	}
}

func (s *Supervisor) handleReset(ls *loopState) {
	prev := s.policy.State()
	s.policy.Reset()
	s.elog.Infof("operator reset (was %s)", prev)
	if s.producer.State() != proc.StateRunning || !s.consumer.Alive() {
		s.armRecovery(ls, 0)
	}
}

func (s *Supervisor) startConsumer() error {
	if err := s.consumer.Start(s.consumerEnv); err != nil {
		s.elog.Errorf("consumer start failed: %v", err)
		return err
	}
	st := s.consumer.Snapshot()
	s.elog.Infof("consumer started command=%q pid=%d", s.cfg.Consumer.Command, st.PID)
	return nil
}

// shutdown terminates both children in parallel within the stop grace period.
// Shutdown is all-or-nothing: whatever survives the grace period is killed.
func (s *Supervisor) shutdown(reason string) error {
	s.elog.Infof("supervisor stopping: %s", reason)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.consumer.Stop(s.consumerGrace())
	}()
	go func() {
		defer wg.Done()
		_ = s.producer.Stop()
	}()
	wg.Wait()
	if s.policy.State() == PolicyHalted {
		return ErrHalted
	}
	return nil
}

func (s *Supervisor) consumerGrace() time.Duration {
	if s.cfg.Consumer.StopGrace > 0 {
		return s.cfg.Consumer.StopGrace
	}
	return proc.DefaultStopGrace
}

func (s *Supervisor) pollInterval() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return device.DefaultPollInterval
}

// backoffFloor is the minimal pause before relaunching after a clean producer
// exit, so a command that exits 0 immediately cannot hot-loop.
func (s *Supervisor) backoffFloor() time.Duration {
	if s.cfg.BackoffInitial > 0 {
		return s.cfg.BackoffInitial
	}
	return DefaultBackoffInitial
}

// publishStatus stores a fresh snapshot for lock-free readers. Called only
// from the Run goroutine (or before it exists).
func (s *Supervisor) publishStatus() {
	st := s.snapshot()
	s.cached.Store(&st)
}

func (s *Supervisor) snapshot() Status {
	return Status{
		Policy:         s.policy.State(),
		CrashCount:     s.policy.CrashCount(),
		CrashThreshold: s.policy.Threshold(),
		LastCrash:      s.policy.LastCrash(),
		Device:         s.cfg.Device.String(),
		DeviceHealth:   s.monitor.State().String(),
		Producer:       s.producer.Status(),
		Consumer:       s.consumer.Snapshot(),
		StartedAt:      s.startedAt,
		EventsDropped:  s.elog.Dropped(),
	}
}

// Status returns the current queryable status. Safe to call from any
// goroutine; it round-trips through the control loop while Run is active and
// serves the loop's last published snapshot when the loop is busy.
func (s *Supervisor) Status() Status {
	if !s.running.Load() {
		return s.snapshot()
	}
	reply := make(chan Status, 1)
	select {
	case s.ctrl <- ctrlMsg{typ: ctrlStatus, status: reply}:
		select {
		case st := <-reply:
			return st
		case <-time.After(2 * time.Second):
		}
	case <-time.After(2 * time.Second):
	}
	return *s.cached.Load()
}

// Reset performs the external operator reset out of Halted.
func (s *Supervisor) Reset() error {
	if !s.running.Load() {
		s.policy.Reset()
		return nil
	}
	reply := make(chan error, 1)
	select {
	case s.ctrl <- ctrlMsg{typ: ctrlReset, reply: reply}:
		select {
		case err := <-reply:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("reset timed out")
		}
	case <-time.After(5 * time.Second):
		return errors.New("reset timed out")
	}
}

// Stop asks the control loop to terminate the pipeline and return from Run.
func (s *Supervisor) Stop() error {
	if !s.running.Load() {
		return nil
	}
	reply := make(chan error, 1)
	select {
	case s.ctrl <- ctrlMsg{typ: ctrlStop, reply: reply}:
		select {
		case err := <-reply:
			return err
		case <-time.After(30 * time.Second):
			return errors.New("stop timed out")
		}
	case <-time.After(30 * time.Second):
		return errors.New("stop timed out")
	}
}
