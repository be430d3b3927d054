package ipfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veilart",
			Subsystem: "ipfs",
			Name:      "uploads_total",
			Help:      "Uploads to IPFS, by provider and result.",
		}, []string{"provider", "result"})

	metricUploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veilart",
			Subsystem: "ipfs",
			Name:      "upload_bytes",
			Help:      "Size of successful uploads to IPFS.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(metricUploads, metricUploadBytes)
}
