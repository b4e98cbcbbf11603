package device

// HealthState is the result of a single device health check.
type HealthState int

const (
	// Unknown is the state before the first check completes.
	Unknown HealthState = iota
	// Healthy: the node exists and the capability probe succeeded in time.
	Healthy
	// Unreachable: the device node does not exist.
	Unreachable
	// Unresponsive: the node exists but the probe failed or timed out.
	Unresponsive
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unreachable:
		return "unreachable"
	case Unresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}
