// Package metrics exposes the Prometheus counters and gauges spec.md's
// expanded observability surface calls for, scraped from the /metrics
// endpoint wired in internal/transport.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders accepted by the intake pipeline.",
	})

	OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders successfully cancelled.",
	})

	TradesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trades_matched_total",
		Help: "Total number of TradeMatch records produced by the matching engine.",
	})

	SettlementQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_queue_depth",
		Help: "Current number of buffered tasks in the settlement queue.",
	})

	OrderbookSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orderbook_subscribers",
		Help: "Current number of WebSocket subscribers per market.",
	}, []string{"market_id"})
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersCancelled, TradesMatched, SettlementQueueDepth, OrderbookSubscribers)
}
