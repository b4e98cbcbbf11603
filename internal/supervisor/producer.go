package supervisor

import (
	"time"

	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/metrics"
	"github.com/loykin/watchcap/internal/proc"
)

// Producer owns the lifecycle of the capture-producing child process. It
// never decides recovery; that is the control loop's job.
type Producer struct {
	proc      *proc.Process
	elog      *eventlog.Log
	mergedEnv []string
	grace     time.Duration
}

func newProducer(spec proc.Spec, mergedEnv []string, elog *eventlog.Log) *Producer {
	grace := spec.StopGrace
	if grace <= 0 {
		grace = proc.DefaultStopGrace
	}
	return &Producer{
		proc:      proc.New(spec),
		elog:      elog,
		mergedEnv: mergedEnv,
		grace:     grace,
	}
}

// Start launches the producer. Fails with proc.ErrAlreadyRunning when a run
// is in flight.
func (pm *Producer) Start() error {
	if err := pm.proc.Start(pm.mergedEnv); err != nil {
		pm.elog.Errorf("producer start failed: %v", err)
		return err
	}
	st := pm.proc.Snapshot()
	pm.elog.Infof("producer started command=%q pid=%d", pm.proc.Spec().Command, st.PID)
	metrics.IncProducerStart(st.Name)
	return nil
}

// Stop terminates the producer gracefully, escalating to SIGKILL after the
// grace period. Idempotent: a no-op when already stopped.
func (pm *Producer) Stop() error {
	if !pm.proc.Alive() {
		return nil
	}
	if err := pm.proc.Stop(pm.grace); err != nil {
		return err
	}
	exit := pm.proc.LastExit()
	if exit.Signal != "" {
		pm.elog.Infof("producer stopped signal=%s", exit.Signal)
	} else {
		pm.elog.Infof("producer stopped code=%d", exit.Code)
	}
	return nil
}

// Restart is Stop followed by Start, with no gap-free handoff guarantee.
func (pm *Producer) Restart() error {
	if err := pm.Stop(); err != nil {
		return err
	}
	if err := pm.Start(); err != nil {
		return err
	}
	n := pm.proc.IncRestarts()
	st := pm.proc.Snapshot()
	metrics.IncProducerRestart(st.Name)
	pm.elog.Infof("producer restarted pid=%d restarts=%d", st.PID, n)
	return nil
}

// Status returns the current process snapshot.
func (pm *Producer) Status() proc.Status { return pm.proc.Snapshot() }

// State returns the current lifecycle state.
func (pm *Producer) State() proc.State { return pm.proc.Snapshot().State }

// WaitDone exposes the current run's exit channel for the control loop.
func (pm *Producer) WaitDone() <-chan struct{} { return pm.proc.WaitDone() }

// LastExit returns the classified result of the most recent completed run.
func (pm *Producer) LastExit() proc.ExitResult { return pm.proc.LastExit() }

// StopRequested reports whether the current run is being stopped on purpose.
func (pm *Producer) StopRequested() bool { return pm.proc.StopRequested() }
