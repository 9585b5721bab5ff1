// Package prometheus exports quantizer metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	vq, _ := vqgo.New(64, 512, vqgo.WithMetricsCollector(vqprom.NewCollector(reg)))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/vqgo"
)

const namespace = "vqgo"

// Collector implements vqgo.MetricsCollector with Prometheus instruments.
type Collector struct {
	forwards      *prometheus.CounterVec
	vectors       prometheus.Counter
	duration      prometheus.Histogram
	replacements  prometheus.Counter
	replacedCodes prometheus.Counter
}

var _ vqgo.MetricsCollector = (*Collector)(nil)

// NewCollector registers the quantizer metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		forwards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Number of forward passes by outcome",
		}, []string{"status"}),
		vectors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantized_vectors_total",
			Help:      "Number of grouped vectors assigned to a code",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Duration of forward passes",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		replacements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replacements_total",
			Help:      "Number of dead-code replacement rounds",
		}),
		replacedCodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replaced_codes_total",
			Help:      "Number of codes overwritten by dead-code replacement",
		}),
	}
}

// RecordForward implements vqgo.MetricsCollector.
func (c *Collector) RecordForward(vectors int, duration time.Duration, err error) {
	c.duration.Observe(duration.Seconds())
	if err != nil {
		c.forwards.WithLabelValues("error").Inc()
		return
	}
	c.forwards.WithLabelValues("ok").Inc()
	c.vectors.Add(float64(vectors))
}

// RecordReplacement implements vqgo.MetricsCollector.
func (c *Collector) RecordReplacement(codes int) {
	c.replacements.Inc()
	c.replacedCodes.Add(float64(codes))
}
