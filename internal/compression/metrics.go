package compression

import "github.com/prometheus/client_golang/prometheus"

var (
	compressInputBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_compression_input_bytes_total",
		Help: "Total uncompressed payload bytes by compression type",
	}, []string{"type"})

	compressOutputBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logs_governor_compression_output_bytes_total",
		Help: "Total compressed payload bytes by compression type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(compressInputBytesTotal)
	prometheus.MustRegister(compressOutputBytesTotal)
}

func recordCompression(t Type, in, out int) {
	compressInputBytesTotal.WithLabelValues(string(t)).Add(float64(in))
	compressOutputBytesTotal.WithLabelValues(string(t)).Add(float64(out))
}
