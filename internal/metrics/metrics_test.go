package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterAndHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// second call is a no-op
	if err := Register(reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	IncProducerStart("producer")
	IncProducerRestart("producer")
	IncCrash("consumer")
	SetCrashCount(2)
	SetPolicyState("recovering", true)
	SetPolicyState("idle", false)
	SetDeviceHealth("/dev/video0", "healthy", true)
	IncHealthTransition("/dev/video0", "unknown", "healthy")
	IncEventDropped()

	if got := testutil.ToFloat64(producerStarts.WithLabelValues("producer")); got != 1 {
		t.Fatalf("starts = %v", got)
	}
	if got := testutil.ToFloat64(processCrashes.WithLabelValues("consumer")); got != 1 {
		t.Fatalf("crashes = %v", got)
	}
	if got := testutil.ToFloat64(crashCount); got != 2 {
		t.Fatalf("crash count = %v", got)
	}
	if got := testutil.ToFloat64(policyState.WithLabelValues("recovering")); got != 1 {
		t.Fatalf("policy state = %v", got)
	}
	if got := testutil.ToFloat64(deviceHealth.WithLabelValues("/dev/video0", "healthy")); got != 1 {
		t.Fatalf("device health = %v", got)
	}
	if got := testutil.ToFloat64(eventsDropped); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
}
