package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminActionsTotal) }

var adminActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_order_actions_total",
		Help: "Manual order overrides by action and status.",
	},
	[]string{"action", "status"}, // status: 'ok', 'conflict', 'unauthorized', 'error'
)

func IncAdminAction(action, status string) {
	adminActionsTotal.WithLabelValues(norm(action), norm(status)).Inc()
}
