// Package metrics exposes Prometheus counters for account lifecycle operations.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "account_manager"

// Operation result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

type Metrics struct {
	operations           *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Account lifecycle operations by operation and result.",
		}, []string{"operation", "result"}),
		verificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_verification_failures_total",
			Help:      "Identity verification round trips that failed, by operation.",
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.verificationFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Operation(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) VerificationFailed(operation string) {
	if m == nil {
		return
	}
	m.verificationFailures.WithLabelValues(operation).Inc()
}

// OperationCounter returns the counter for one operation and result.
func (m *Metrics) OperationCounter(operation, result string) prometheus.Counter {
	return m.operations.WithLabelValues(operation, result)
}

func (m *Metrics) VerificationFailureCounter(operation string) prometheus.Counter {
	return m.verificationFailures.WithLabelValues(operation)
}
