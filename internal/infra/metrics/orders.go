package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		ordersTotal,
		ordersRevenueTotal,
	)
}

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_orders_total",
			Help: "Plan orders by provider and status (created/approved/rejected/failed).",
		},
		[]string{"provider", "status"},
	)

	ordersRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_orders_revenue_total",
			Help: "Sum of approved order amounts, labelled by currency.",
		},
		[]string{"currency"},
	)
)

func IncOrder(provider, status string) {
	ordersTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func AddRevenue(currency string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	ordersRevenueTotal.WithLabelValues(norm(currency)).Add(f)
}
