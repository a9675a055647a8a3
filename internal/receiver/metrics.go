package receiver

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_receiver_requests_total",
		Help: "Total number of ingest requests by outcome",
	}, []string{"outcome"})

	receivedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logs_governor_receiver_bytes_total",
		Help: "Total uncompressed bytes received on the ingest endpoint",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(receivedBytesTotal)

	// Initialize counters with 0 so they appear in /metrics immediately
	requestsTotal.WithLabelValues("ack").Add(0)
	requestsTotal.WithLabelValues("nack").Add(0)
	requestsTotal.WithLabelValues("bad_request").Add(0)
	requestsTotal.WithLabelValues("unavailable").Add(0)
}
