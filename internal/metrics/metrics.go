package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	simulationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execsim",
			Subsystem: "simulation",
			Name:      "requests_total",
			Help:      "Total simulations by execution method and outcome",
		},
		[]string{"method", "status"},
	)

	simulationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "execsim",
			Subsystem: "simulation",
			Name:      "duration_seconds",
			Help:      "Wall-clock time spent in the simulation pipeline",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"method"},
	)

	tapePoints = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "execsim",
			Name:      "tape_points",
			Help:      "Number of points in normalized tapes",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 7),
		},
	)
)

// ObserveSimulation 记录一次模拟的结果与耗时。
func ObserveSimulation(method, status string, elapsed time.Duration) {
	simulationRequests.WithLabelValues(method, status).Inc()
	simulationDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveTape 记录规范化后的行情带点数。
func ObserveTape(points int) {
	tapePoints.Observe(float64(points))
}

// Handler 返回 Prometheus 抓取接口。
func Handler() http.Handler {
	return promhttp.Handler()
}
