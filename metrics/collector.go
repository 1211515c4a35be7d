// Package metrics exposes Prometheus counters for account events and code
// verification outcomes.
package metrics

import (
	"context"

	"github.com/goliatone/go-accounts"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "accounts"

// Collector counts published events and verification outcomes. It is both
// an accounts.EventSink and an accounts.VerificationObserver.
type Collector struct {
	events        *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewCollector creates the counters and registers them on reg.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Account lifecycle events published, by event name.",
		}, []string{"event"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_verifications_total",
			Help:      "Verification code checks, by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
	}

	reg.MustRegister(c.events, c.verifications)

	return c
}

// Publish implements accounts.EventSink.
func (c *Collector) Publish(_ context.Context, event accounts.Event) error {
	c.events.WithLabelValues(string(event.Name)).Inc()
	return nil
}

// ObserveVerification implements accounts.VerificationObserver.
func (c *Collector) ObserveVerification(_ context.Context, purpose accounts.Purpose, outcome accounts.VerificationOutcome) {
	c.verifications.WithLabelValues(string(purpose), string(outcome)).Inc()
}
