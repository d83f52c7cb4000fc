package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/inetemu/core"
)

func TestObserveBuildRecordsResultAndEntities(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}

	collector.ObserveBuild(20*time.Millisecond, map[string]int{"rnode": 3, "hnode": 5}, nil)
	collector.ObserveBuild(time.Millisecond, map[string]int{"rnode": 1}, core.ErrUnbindable)

	if got := testutil.ToFloat64(collector.Builds.WithLabelValues("ok")); got != 1 {
		t.Fatalf("inetemu_builds_total{result=ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Builds.WithLabelValues("config_error")); got != 1 {
		t.Fatalf("inetemu_builds_total{result=config_error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Entities.WithLabelValues("rnode")); got != 1 {
		t.Fatalf("inetemu_registry_entities{kind=rnode} = %v, want 1", got)
	}
	// The gauge is reset on every build, so hnode from the first build is gone.
	if got := testutil.CollectAndCount(collector.Entities); got != 1 {
		t.Fatalf("entity series = %d, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "inetemu_build_duration_seconds", nil); count != 2 {
		t.Fatalf("inetemu_build_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestObserveBindingLabelsByAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}

	collector.ObserveBinding(core.ActionFirst, nil)
	collector.ObserveBinding(core.ActionFirst, nil)
	collector.ObserveBinding(core.ActionRandom, errors.New("boom"))

	if got := testutil.ToFloat64(collector.Bindings.WithLabelValues("first", "ok")); got != 2 {
		t.Fatalf("bindings{first,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Bindings.WithLabelValues("random", "error")); got != 1 {
		t.Fatalf("bindings{random,error} = %v, want 1", got)
	}
}

type noopLayer struct {
	core.LayerBase
	fail bool
}

func (l *noopLayer) Render(*core.Emulator) error {
	if l.fail {
		return errors.New("render failed")
	}
	return nil
}

func TestCollectorObservesLayersThroughEmulator(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}

	emu := core.NewEmulator(core.WithMetricsRecorder(collector))
	if err := emu.AddLayer(&noopLayer{LayerBase: core.NewLayerBase("Quiet")}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if err := emu.AddLayer(&noopLayer{LayerBase: core.NewLayerBase("Loud"), fail: true}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if err := emu.Render(context.Background()); err == nil {
		t.Fatalf("expected render failure")
	}

	for _, tc := range []struct {
		phase, layer string
		want         uint64
	}{
		{"configure", "Quiet", 1},
		{"configure", "Loud", 1},
		{"render", "Loud", 1},
	} {
		got := histogramSampleCount(t, reg, "inetemu_layer_duration_seconds", map[string]string{"phase": tc.phase, "layer": tc.layer})
		if got != tc.want {
			t.Fatalf("layer duration %s/%s count = %d, want %d", tc.phase, tc.layer, got, tc.want)
		}
	}
	if got := testutil.ToFloat64(collector.LayerErrors.WithLabelValues("render", "Loud")); got != 1 {
		t.Fatalf("layer errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Builds.WithLabelValues("error")); got != 1 {
		t.Fatalf("builds{error} = %v, want 1", got)
	}
}

func TestNewBuildCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}
	second, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("second NewBuildCollector: %v", err)
	}
	if first.Builds != second.Builds {
		t.Fatalf("expected the already registered counter to be reused")
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBuildCollector(reg)
	if err != nil {
		t.Fatalf("NewBuildCollector: %v", err)
	}
	collector.ObserveBuild(time.Millisecond, map[string]int{"net": 2}, nil)

	path := filepath.Join(t.TempDir(), "inetemu.prom")
	if err := collector.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, metric := range []string{"inetemu_builds_total", `inetemu_registry_entities{kind="net"} 2`} {
		if !strings.Contains(string(data), metric) {
			t.Fatalf("expected %q in textfile output:\n%s", metric, data)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *BuildCollector
	c.ObserveBuild(time.Second, nil, nil)
	c.ObserveBinding(core.ActionLast, nil)
	c.LayerFinished(context.Background(), core.PhaseRender, "x", time.Second, nil)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil collector WriteTextfile: %v", err)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
