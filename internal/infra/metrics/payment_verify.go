package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentVerifyRequests,
		PaymentVerifyDuration,
	)
}

var (
	// Count of callback verifications grouped by provider, callback kind,
	// result and bounded reason.
	// result: ok|fail
	// reason (fail only): signature|amount|reference|unknown_order|unavailable|other
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Provider callback verifications by provider, kind, result and reason.",
		},
		[]string{"provider", "kind", "result", "reason"},
	)

	PaymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of callback processing in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "kind", "result"},
	)
)

func ObserveVerify(provider, kind, result, reason string, seconds float64) {
	PaymentVerifyRequests.WithLabelValues(norm(provider), norm(kind), norm(result), reasonLabel(result, reason)).Inc()
	PaymentVerifyDuration.WithLabelValues(norm(provider), norm(kind), norm(result)).Observe(seconds)
}

func reasonLabel(result, reason string) string {
	if norm(result) == "ok" {
		return "none"
	}
	return norm(reason)
}
