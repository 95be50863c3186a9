package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_api_requests_total", Help: "HTTP requests served"},
		[]string{"endpoint", "status"},
	)
	Ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_ingested_total", Help: "Inbound SMS events by source"},
		[]string{"source"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_dispatch_total", Help: "Dispatch outcomes"},
		[]string{"result"},
	)
	QueueOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_queue_ops_total", Help: "Durable queue operations"},
		[]string{"op", "result"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "smsrelay_queue_depth", Help: "Entries in the durable queue after the last write"},
	)
	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "smsrelay_evicted_total", Help: "Entries dropped after reaching the retry ceiling"},
	)
	DeliverySend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_delivery_total", Help: "Delivery API outcomes"},
		[]string{"result", "http_status"},
	)
	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "smsrelay_delivery_latency_seconds", Help: "Delivery API latency"},
	)
	Drains = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_drain_total", Help: "Queue drain passes by trigger and result"},
		[]string{"trigger", "result"},
	)
	Reachability = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "smsrelay_reachable", Help: "1 when the delivery API was last seen reachable"},
	)
	ScheduledRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "smsrelay_scheduled_runs_total", Help: "Scheduled task results"},
		[]string{"task", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests, Ingested, Dispatches, QueueOps, QueueDepth, Evictions,
		DeliverySend, DeliveryLatency, Drains, Reachability, ScheduledRuns,
	)
}
