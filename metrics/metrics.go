// Package metrics records settlement and administration counters.
package metrics

import "time"

// Metric names.
const (
	PaymentsProcessed = "payment_processed"
	PaymentsFailed    = "payment_failed"
	AdminCalls        = "admin_call"
	AdminRejected     = "admin_rejected"

	SettleLatency = "settle"
)

// Recorder receives counter and latency observations. Labels understood by
// the prometheus recorder are "token" and "outcome".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
