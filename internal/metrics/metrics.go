package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	TickCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencoupler_ticks_total",
		Help: "The total number of I/O cycles run against the coupler",
	}, []string{"status"})

	DiscoveryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencoupler_discoveries_total",
		Help: "The total number of discovery handshakes",
	}, []string{"status"})

	ErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencoupler_errors_total",
		Help: "The total number of coupler errors by class",
	}, []string{"class"})

	// Histograms
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opencoupler_tick_duration_seconds",
		Help:    "Duration of one I/O cycle",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// Gauges
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opencoupler_connected",
		Help: "Whether a coupler session is ready (1) or not (0)",
	})

	Modules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opencoupler_modules",
		Help: "The number of I/O modules found by the last discovery",
	})
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ObserveTick records one I/O cycle.
func ObserveTick(d time.Duration, err error) {
	TickDuration.Observe(d.Seconds())
	TickCount.WithLabelValues(status(err)).Inc()
}

// ObserveDiscovery records one discovery handshake.
func ObserveDiscovery(modules int, err error) {
	DiscoveryCount.WithLabelValues(status(err)).Inc()
	if err == nil {
		Modules.Set(float64(modules))
	}
}

// IncError increments the error counter.
func IncError(class string) {
	ErrorCount.WithLabelValues(class).Inc()
}

// SetConnected sets the session gauge.
func SetConnected(ok bool) {
	if ok {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
