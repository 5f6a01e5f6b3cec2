package admission

import "github.com/prometheus/client_golang/prometheus"

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "driveledger",
	Subsystem: "admission",
	Name:      "decisions_total",
	Help:      "Admission decisions by outcome and rejection code.",
}, []string{"outcome", "code"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}
