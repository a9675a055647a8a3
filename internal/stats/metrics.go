package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	distinctAttributeKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logs_governor_distinct_attribute_keys",
		Help: "Estimated number of distinct attribute keys in the last reporting window",
	})

	distinctEventNames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logs_governor_distinct_event_names",
		Help: "Estimated number of distinct event names in the last reporting window",
	})
)

func init() {
	prometheus.MustRegister(distinctAttributeKeys)
	prometheus.MustRegister(distinctEventNames)
}
