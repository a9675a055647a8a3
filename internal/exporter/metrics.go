package exporter

import "github.com/prometheus/client_golang/prometheus"

var (
	consumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_records_consumed_total",
		Help: "Total number of log records materialized from incoming signals",
	})

	exportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_records_exported_total",
		Help: "Total number of log records successfully uploaded",
	})

	failedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_records_failed_total",
		Help: "Total number of log records that could not be exported",
	})

	signalsAckedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_signals_acked_total",
		Help: "Total number of signals acknowledged",
	})

	signalsNackedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_signals_nacked_total",
		Help: "Total number of signals rejected by pipeline stage",
	}, []string{"stage"})

	nodeState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logs_governor_node_state",
		Help: "Current export node state (0=running, 1=draining, 2=stopped)",
	})
)

func init() {
	prometheus.MustRegister(consumedTotal)
	prometheus.MustRegister(exportedTotal)
	prometheus.MustRegister(failedTotal)
	prometheus.MustRegister(signalsAckedTotal)
	prometheus.MustRegister(signalsNackedTotal)
	prometheus.MustRegister(nodeState)
}
