package httpapi

// metrics.go exposes node health, smart-rate and block-height gauges at
// /metrics.

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	healthyNodesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fvc",
		Name:      "cluster_healthy_nodes",
		Help:      "1 if the node serving this API is started, else 0.",
	})

	smartRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fvc",
		Name:      "smart_rate",
		Help:      "Average of the miner's recent smart-rate samples.",
	})

	latestHeightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fvc",
		Name:      "latest_block_height",
		Help:      "Highest block height stored by the ledger.",
	})
)

func init() {
	prometheus.MustRegister(healthyNodesGauge, smartRateGauge, latestHeightGauge)
}

// MetricsHandler returns the promhttp handler to mount at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// recordGauges updates the exported gauges from a fresh snapshot. Called
// on every GET /blocks request rather than on a timer, since the values
// are cheap to compute.
func recordGauges(healthyNodes int, smartRate float64, latestHeight uint64) {
	healthyNodesGauge.Set(float64(healthyNodes))
	smartRateGauge.Set(smartRate)
	latestHeightGauge.Set(float64(latestHeight))
}
