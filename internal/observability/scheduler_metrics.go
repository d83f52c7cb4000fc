package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/inetemu/core"
)

var _ core.RenderObserver = (*BuildCollector)(nil)

func registerLayerMetrics(reg prometheus.Registerer) (*prometheus.HistogramVec, *prometheus.CounterVec, error) {
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inetemu_layer_duration_seconds",
		Help:    "Duration of one layer step, labeled by phase and layer.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"phase", "layer"}), "inetemu_layer_duration_seconds")
	if err != nil {
		return nil, nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inetemu_layer_errors_total",
		Help: "Layer steps that returned an error, labeled by phase and layer.",
	}, []string{"phase", "layer"}), "inetemu_layer_errors_total")
	if err != nil {
		return nil, nil, err
	}
	return durations, failures, nil
}

// LayerStarted implements core.RenderObserver.
func (c *BuildCollector) LayerStarted(ctx context.Context, _ core.Phase, _ string) context.Context {
	return ctx
}

// LayerFinished records the duration of a layer step and counts failures.
func (c *BuildCollector) LayerFinished(_ context.Context, phase core.Phase, layer string, elapsed time.Duration, err error) {
	if c == nil || c.LayerDurations == nil {
		return
	}
	c.LayerDurations.WithLabelValues(phase.String(), layer).Observe(elapsed.Seconds())
	if err != nil && c.LayerErrors != nil {
		c.LayerErrors.WithLabelValues(phase.String(), layer).Inc()
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
