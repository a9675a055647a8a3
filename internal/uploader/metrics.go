package uploader

import "github.com/prometheus/client_golang/prometheus"

var (
	uploadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_upload_requests_total",
		Help: "Total number of upload attempts sent to the backend",
	})

	uploadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_upload_bytes_total",
		Help: "Total bytes uploaded to the backend",
	}, []string{"compression"})

	uploadErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_upload_errors_total",
		Help: "Total number of upload errors by error type",
	}, []string{"error_type"})

	uploadRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_upload_retries_total",
		Help: "Total number of retry attempts after a failed upload",
	})

	uploadRetrySuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_upload_retry_success_total",
		Help: "Total number of batches that succeeded after at least one retry",
	})

	uploadBatchesAbandonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_upload_batches_abandoned_total",
		Help: "Total number of batches abandoned after exhausting the retry budget",
	})
)

func init() {
	prometheus.MustRegister(uploadRequestsTotal)
	prometheus.MustRegister(uploadBytesTotal)
	prometheus.MustRegister(uploadErrorsTotal)
	prometheus.MustRegister(uploadRetriesTotal)
	prometheus.MustRegister(uploadRetrySuccessTotal)
	prometheus.MustRegister(uploadBatchesAbandonedTotal)
}
