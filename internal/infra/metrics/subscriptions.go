package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		activationsTotal,
		referralAccrualsTotal,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_activations_total",
			Help: "Activation attempts by cycle and result (activated/replayed/error).",
		},
		[]string{"cycle", "result"},
	)

	referralAccrualsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_accruals_total",
			Help: "Referral commission notifications by result.",
		},
		[]string{"result"}, // 'sent', 'error', 'dropped'
	)
)

func IncActivation(cycle, result string) {
	activationsTotal.WithLabelValues(norm(cycle), norm(result)).Inc()
}

func IncReferralAccrual(result string) {
	referralAccrualsTotal.WithLabelValues(norm(result)).Inc()
}
