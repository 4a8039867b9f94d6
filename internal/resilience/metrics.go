package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerState exposes the state per target: 0=closed, 1=open, 2=half-open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderdesk_breaker_state",
			Help: "Current breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	// BreakerTransitions counts state changes.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	// RetryAttempts counts retried outbound calls.
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_http_retry_total",
			Help: "Outbound HTTP attempts that were retried",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, RetryAttempts)
}
