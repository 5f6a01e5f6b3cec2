package channels

import "github.com/prometheus/client_golang/prometheus"

var channelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "driveledger",
	Subsystem: "channels",
	Name:      "active",
	Help:      "Number of registered download channels.",
})

func init() {
	prometheus.MustRegister(channelsActive)
}
