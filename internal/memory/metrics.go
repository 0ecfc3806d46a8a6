package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storedRecords tracks how many records each namespace holds. Seeded
// from a full count at open, incremented on applied upserts.
var storedRecords = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "geogate",
		Subsystem: "memory",
		Name:      "records",
		Help:      "Records currently stored per memory namespace",
	},
	[]string{"namespace"},
)

// seedRecordGauges initializes the per-namespace gauges.
func seedRecordGauges(counts map[string]int) {
	for ns, n := range counts {
		storedRecords.WithLabelValues(ns).Set(float64(n))
	}
}

// recordStored registers one newly written record.
func recordStored(namespace string) {
	storedRecords.WithLabelValues(namespace).Inc()
}
