package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/internal/logging"
)

func TestInitTracingStdoutExportsBuildSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	shutdown, err := InitTracing(context.Background(), cfg, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}, nil) })

	// The emulator picks up the global provider at construction.
	emu := core.NewEmulator()
	if err := emu.AddLayer(&noopLayer{LayerBase: core.NewLayerBase("Quiet")}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if err := emu.Render(context.Background()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	for _, span := range []string{"emulator.render", "configure Quiet", "render Quiet"} {
		if !strings.Contains(out, span) {
			t.Fatalf("expected span %q in exporter output:\n%s", span, out)
		}
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "ignored")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a valid span context")
	}
}

func TestInitTracingRejectsBadConfig(t *testing.T) {
	for name, cfg := range map[string]TracingConfig{
		"exporter": {Enabled: true, Exporter: "zipkin", SampleRatio: 1},
		"ratio":    {Enabled: true, Exporter: "stdout", SampleRatio: 2},
	} {
		if _, err := InitTracing(context.Background(), cfg, nil); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}
