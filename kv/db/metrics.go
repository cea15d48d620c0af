package db

import "github.com/prometheus/client_golang/prometheus"

var (
	transactCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdbmem",
			Subsystem: "db",
			Name:      "transact_total",
			Help:      "Counter of retry loop outcomes.",
		}, []string{"result"})

	retryCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fdbmem",
			Subsystem: "db",
			Name:      "retries_total",
			Help:      "Counter of transaction retries.",
		})
)

func init() {
	prometheus.MustRegister(transactCounter)
	prometheus.MustRegister(retryCounter)
}
