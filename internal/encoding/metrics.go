package encoding

import "github.com/prometheus/client_golang/prometheus"

var (
	encodedBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_encoded_batches_total",
		Help: "Total number of encoded upload batches produced",
	})

	encodedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_encoded_records_total",
		Help: "Total number of log records encoded into upload batches",
	})
)

func init() {
	prometheus.MustRegister(encodedBatchesTotal)
	prometheus.MustRegister(encodedRecordsTotal)
}
