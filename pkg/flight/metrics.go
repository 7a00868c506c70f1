package flight

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache activity per key kind, the part of the key before
// the first '/'.
type Metrics struct {
	hits       *prometheus.CounterVec
	loads      *prometheus.CounterVec
	coalesced  *prometheus.CounterVec
	loadErrors *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		hits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tengine_cache_hits_total",
				Help: "Template cache lookups served from a resolved entry",
			},
			[]string{"kind"},
		),
		loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tengine_cache_loads_total",
				Help: "Template compilations started by the cache",
			},
			[]string{"kind"},
		),
		coalesced: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tengine_cache_coalesced_total",
				Help: "Lookups that waited on a compilation already in flight",
			},
			[]string{"kind"},
		),
		loadErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tengine_cache_load_errors_total",
				Help: "Template compilations that failed",
			},
			[]string{"kind"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tengine_cache_load_seconds",
				Help:    "Time spent loading and compiling templates",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

func kindOf(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return "default"
}

// The recording methods accept a nil receiver so an uninstrumented cache
// needs no checks.

func (m *Metrics) hit(key string) {
	if m != nil {
		m.hits.WithLabelValues(kindOf(key)).Inc()
	}
}

func (m *Metrics) coalesce(key string) {
	if m != nil {
		m.coalesced.WithLabelValues(kindOf(key)).Inc()
	}
}

func (m *Metrics) load(key string) {
	if m != nil {
		m.loads.WithLabelValues(kindOf(key)).Inc()
	}
}

func (m *Metrics) done(key string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kindOf(key)).Observe(d.Seconds())
	if err != nil {
		m.loadErrors.WithLabelValues(kindOf(key)).Inc()
	}
}
