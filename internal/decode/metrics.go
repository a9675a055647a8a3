package decode

import "github.com/prometheus/client_golang/prometheus"

var (
	decodeBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_decode_batches_total",
		Help: "Total number of columnar batches materialized",
	})

	decodeRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_decode_rows_total",
		Help: "Total number of log rows materialized",
	})

	decodeAttrsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_decode_attributes_total",
		Help: "Total number of attributes joined onto records by table kind",
	}, []string{"table"})

	decodeDroppedAttrsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_decode_dropped_attributes_total",
		Help: "Total number of attribute rows dropped during the join by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(decodeBatchesTotal)
	prometheus.MustRegister(decodeRowsTotal)
	prometheus.MustRegister(decodeAttrsTotal)
	prometheus.MustRegister(decodeDroppedAttrsTotal)
}
