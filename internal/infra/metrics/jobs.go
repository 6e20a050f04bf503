package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcilerOrdersTotal,
		workerTasksTotal,
	)
}

var (
	reconcilerOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_orders_total",
			Help: "Orders handled by the reconciler, labelled by outcome.",
		},
		[]string{"outcome"}, // 'approved', 'failed', 'expired', 'pending', 'activated', 'error', 'skipped'
	)

	workerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Background tasks by result.",
		},
		[]string{"result"}, // 'ok', 'error', 'rejected'
	)
)

func IncReconciled(outcome string) {
	reconcilerOrdersTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncWorkerTask(result string) {
	workerTasksTotal.WithLabelValues(norm(result)).Inc()
}
