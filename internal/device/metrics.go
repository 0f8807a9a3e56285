package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors a Context reports to.
type Metrics struct {
	Launches      *prometheus.CounterVec
	Elements      *prometheus.CounterVec
	LaunchSeconds *prometheus.HistogramVec
	HostSyncs     *prometheus.CounterVec
	VectorWidth   *prometheus.GaugeVec

	PoolHits   prometheus.Counter
	PoolMisses prometheus.Counter
	PoolBytes  prometheus.Gauge
}

// NewMetrics registers the kernel collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Launches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "born_kernels_launches_total",
			Help: "Total number of kernel launches",
		}, []string{"kernel"}),
		Elements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "born_kernels_elements_total",
			Help: "Total number of work-items executed",
		}, []string{"kernel"}),
		LaunchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "born_kernels_launch_seconds",
			Help:    "Wall time of kernel launches",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"kernel"}),
		HostSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "born_kernels_host_syncs_total",
			Help: "Total number of device-to-host scalar reads",
		}, []string{"site"}),
		VectorWidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "born_kernels_vector_width",
			Help: "Vector width chosen by the most recent launch",
		}, []string{"kernel"}),
		PoolHits: f.NewCounter(prometheus.CounterOpts{
			Name: "born_kernels_pool_hits_total",
			Help: "Total number of scratch pool retrievals served from the pool",
		}),
		PoolMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "born_kernels_pool_misses_total",
			Help: "Total number of scratch pool misses (allocations)",
		}),
		PoolBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "born_kernels_pool_size_bytes",
			Help: "Current total size of buffers held by the scratch pool",
		}),
	}
}
