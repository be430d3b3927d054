package fhe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricInitializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veilart",
			Subsystem: "fhe",
			Name:      "initializations_total",
			Help:      "Encryption service initializations, by result.",
		}, []string{"result"})

	metricOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veilart",
			Subsystem: "fhe",
			Name:      "operations_total",
			Help:      "Encrypt and decrypt requests sent to the encryption service, by operation and result.",
		}, []string{"op", "result"})
)

func init() {
	prometheus.MustRegister(metricInitializations, metricOperations)
}

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metricOperations.WithLabelValues(op, result).Inc()
}
