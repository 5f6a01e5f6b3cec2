package meter

import "github.com/prometheus/client_golang/prometheus"

var (
	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "meter",
		Name:      "bytes_total",
		Help:      "Bytes metered by direction.",
	}, []string{"direction"}) // "requested", "sent", "received"

	overflowTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "meter",
		Name:      "overflows_total",
		Help:      "Record calls rejected because a counter would overflow.",
	})

	unknownChannelTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "meter",
		Name:      "unknown_channel_total",
		Help:      "Metering calls against channels missing from the registry.",
	})

	checkpointedPairs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "meter",
		Name:      "checkpointed_pairs_total",
		Help:      "Pairs written by the checkpoint flusher.",
	})
)

func init() {
	prometheus.MustRegister(
		bytesTotal,
		overflowTotal,
		unknownChannelTotal,
		checkpointedPairs,
	)
}
