package metrics

import (
	"time"
)

// MeasureDBQuery starts timing a store operation and returns the func that records it:
//
//	defer metrics.MeasureDBQuery(m, "latest_active", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}

// RecordDBQuery records a store operation whose duration was already measured.
func RecordDBQuery(m *Metrics, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveDBQuery(operation, backend, duration)
}
