package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(gatewayCallDuration) }

var gatewayCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payment_gateway_call_duration_seconds",
		Help:    "Outbound gateway API latency by provider, operation and result.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
	},
	[]string{"provider", "op", "result"}, // result: ok|rejected|unavailable
)

func ObserveGatewayCall(provider, op, result string, d time.Duration) {
	gatewayCallDuration.WithLabelValues(norm(provider), norm(op), norm(result)).Observe(d.Seconds())
}
