package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DetailFetchTotal counts detail fetches by outcome (ok, cached, failed, empty).
	DetailFetchTotal *prometheus.CounterVec
	// DetailFetchLatency records details endpoint latency in milliseconds.
	DetailFetchLatency prometheus.Histogram
	// ValidationFailuresTotal counts rejected quantity and amount edits by reason.
	ValidationFailuresTotal *prometheus.CounterVec
	// FormSubmissionsTotal counts submit attempts by outcome.
	FormSubmissionsTotal *prometheus.CounterVec
	// ActiveForms tracks open form sessions.
	ActiveForms prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers the aggregator collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DetailFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_fetch_total",
			Help:      "Parent request detail fetches by outcome.",
		}, []string{"result"})
		DetailFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detail_fetch_duration_ms",
			Help:      "Latency of the details endpoint in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})
		ValidationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected line edits by reason.",
		}, []string{"reason"})
		FormSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_submissions_total",
			Help:      "Form submit attempts by outcome.",
		}, []string{"flow", "result"})
		ActiveForms = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_forms",
			Help:      "Open form sessions.",
		})

		mustRegisterCollector(reg, DetailFetchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DetailFetchTotal = v
			}
		})
		mustRegisterCollector(reg, DetailFetchLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				DetailFetchLatency = v
			}
		})
		mustRegisterCollector(reg, ValidationFailuresTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ValidationFailuresTotal = v
			}
		})
		mustRegisterCollector(reg, FormSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				FormSubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, ActiveForms, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ActiveForms = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
