package coordinator

import (
	"sync/atomic"
)

// Metrics counts action outcomes for /metrics.
type Metrics struct {
	Accepted        atomic.Int64 // committed writes
	Rejected        atomic.Int64 // validation and rule errors
	Conflicts       atomic.Int64 // lost optimistic races
	Failures        atomic.Int64 // store/notifier unavailable
	Published       atomic.Int64
	PublishFailures atomic.Int64
}

// Snapshot returns a read-only copy for JSON output.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"accepted":         m.Accepted.Load(),
		"rejected":         m.Rejected.Load(),
		"conflicts":        m.Conflicts.Load(),
		"failures":         m.Failures.Load(),
		"published":        m.Published.Load(),
		"publish_failures": m.PublishFailures.Load(),
	}
}
