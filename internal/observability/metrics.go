package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/inetemu/core"
)

// BuildCollector bundles Prometheus metrics for emulator builds. It satisfies
// core.MetricsRecorder and core.RenderObserver, so passing it to
// core.WithMetricsRecorder wires both.
type BuildCollector struct {
	gatherer prometheus.Gatherer

	Builds         *prometheus.CounterVec
	BuildDuration  prometheus.Histogram
	Bindings       *prometheus.CounterVec
	Entities       *prometheus.GaugeVec
	LayerDurations *prometheus.HistogramVec
	LayerErrors    *prometheus.CounterVec
}

var _ core.MetricsRecorder = (*BuildCollector)(nil)

// NewBuildCollector registers build metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewBuildCollector(reg prometheus.Registerer) (*BuildCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	builds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inetemu_builds_total",
		Help: "Total number of emulator builds, labeled by result.",
	}, []string{"result"}), "inetemu_builds_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inetemu_build_duration_seconds",
		Help:    "Wall time of configure plus render for one build.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}), "inetemu_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	bindings, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inetemu_bindings_total",
		Help: "Virtual node resolutions, labeled by binding action and result.",
	}, []string{"action", "result"}), "inetemu_bindings_total")
	if err != nil {
		return nil, err
	}

	entities, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inetemu_registry_entities",
		Help: "Entities in the registry after the last build, labeled by kind.",
	}, []string{"kind"}), "inetemu_registry_entities")
	if err != nil {
		return nil, err
	}

	layerDurations, layerErrors, err := registerLayerMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &BuildCollector{
		gatherer:       gatherer,
		Builds:         builds,
		BuildDuration:  duration,
		Bindings:       bindings,
		Entities:       entities,
		LayerDurations: layerDurations,
		LayerErrors:    layerErrors,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *BuildCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// WriteTextfile writes the current metric values in the text exposition
// format, for pickup by a node exporter textfile collector.
func (c *BuildCollector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

// ObserveBuild records the outcome of one build.
func (c *BuildCollector) ObserveBuild(elapsed time.Duration, entities map[string]int, err error) {
	if c == nil {
		return
	}
	c.Builds.WithLabelValues(result(err)).Inc()
	c.BuildDuration.Observe(elapsed.Seconds())

	kinds := make([]string, 0, len(entities))
	for kind := range entities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	c.Entities.Reset()
	for _, kind := range kinds {
		c.Entities.WithLabelValues(kind).Set(float64(entities[kind]))
	}
}

// ObserveBinding records one virtual node resolution.
func (c *BuildCollector) ObserveBinding(action core.Action, err error) {
	if c == nil {
		return
	}
	c.Bindings.WithLabelValues(action.String(), result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsConfigurationError(err):
		return "config_error"
	default:
		return "error"
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
