package receipts

import "github.com/prometheus/client_golang/prometheus"

var (
	issuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "receipts",
		Name:      "issued_total",
		Help:      "Receipts signed by this node.",
	})

	verifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "receipts",
		Name:      "verified_total",
		Help:      "Inbound receipts by verdict.",
	}, []string{"status", "reason"})
)

func init() {
	prometheus.MustRegister(issuedTotal, verifiedTotal)
}
