package core

import (
	"context"
	"errors"
	"testing"
)

// echoMerger unions the installs of two echo services.
type echoMerger struct{}

func (echoMerger) Name() string     { return "DefaultEchoMerger" }
func (echoMerger) TypeName() string { return "EchoService" }

func (echoMerger) Merge(a, b Layer) (Layer, error) {
	out := newEchoService()
	for _, side := range []Layer{a, b} {
		svc, ok := side.(*echoService)
		if !ok {
			return nil, ErrLayerType
		}
		for _, inst := range svc.Pending() {
			if err := out.Adopt(inst); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func TestMergeCarriesSingleSideLayers(t *testing.T) {
	a := NewEmulator()
	hosts := newHostsLayer(150, "h1")
	_ = a.AddLayer(hosts)
	b := NewEmulator()
	extra := newStub("Extra")
	_ = b.AddLayer(extra)

	merged, err := Merge(a, b, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	layers := merged.Layers()
	if len(layers) != 2 || layers[0] != Layer(hosts) || layers[1] != Layer(extra) {
		t.Fatalf("merged layers = %v", layers)
	}
}

func TestMergeRequiresMergerForSharedLayer(t *testing.T) {
	a, b := NewEmulator(), NewEmulator()
	_ = a.AddLayer(newEchoService())
	_ = b.AddLayer(newEchoService())

	if _, err := Merge(a, b, nil); !errors.Is(err, ErrNoMerger) {
		t.Fatalf("expected ErrNoMerger, got %v", err)
	}
}

func TestMergeServicesAndBindings(t *testing.T) {
	a, b := NewEmulator(), NewEmulator()
	sa, sb := newEchoService(), newEchoService()
	_ = a.AddLayer(newHostsLayer(150, "h1", "h2"))
	_ = a.AddLayer(sa)
	_ = b.AddLayer(sb)
	sa.Install("echo-a")
	sb.Install("echo-b")
	a.AddBinding(MustBinding("echo-a", ActionFirst, Filter{NodeName: "h2"}))
	b.AddBinding(MustBinding("echo-.*", ActionFirst, Filter{}))

	merged, err := Merge(a, b, []Merger{echoMerger{}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := len(merged.Bindings()); got != 2 {
		t.Fatalf("bindings = %d, want 2", got)
	}
	if merged.Bindings()[0].Source != "echo-a" {
		t.Fatalf("bindings of the first input must come first")
	}
	if err := merged.Render(context.Background()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	svc, err := LayerAs[*echoService](merged, "EchoService")
	if err != nil {
		t.Fatalf("LayerAs: %v", err)
	}
	targets := svc.Targets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].Node.Name() != "h2" || targets[1].Node.Name() != "h1" {
		t.Fatalf("targets bound to %s and %s, want h2 and h1", targets[0].Node.Name(), targets[1].Node.Name())
	}
}

func TestMergeRejectsDuplicateInstall(t *testing.T) {
	a, b := NewEmulator(), NewEmulator()
	sa, sb := newEchoService(), newEchoService()
	_ = a.AddLayer(sa)
	_ = b.AddLayer(sb)
	sa.Install("echo")
	sb.Install("echo")

	if _, err := Merge(a, b, []Merger{echoMerger{}}); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
}

func TestMergeRejectsRenderedInput(t *testing.T) {
	a := NewEmulator()
	if err := a.Render(context.Background()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, err := Merge(a, NewEmulator(), nil); !errors.Is(err, ErrAlreadyRendered) {
		t.Fatalf("expected ErrAlreadyRendered, got %v", err)
	}
}

func TestMergeMaps(t *testing.T) {
	a := map[string]int{"x": 1, "y": 2}
	b := map[string]int{"y": 3, "z": 4}
	eq := func(p, q int) bool { return p == q }

	got, err := MergeMaps(a, b, eq, nil)
	if err != nil {
		t.Fatalf("MergeMaps: %v", err)
	}
	if got["x"] != 1 || got["y"] != 2 || got["z"] != 4 || len(got) != 3 {
		t.Fatalf("prefer-A merge = %v", got)
	}

	if _, err := MergeMaps(a, b, eq, RejectConflict[string, int]); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}

	var sum ConflictFunc[string, int] = func(_ string, p, q int) (int, error) { return p + q, nil }
	got, err = MergeMaps(a, b, eq, sum)
	if err != nil || got["y"] != 5 {
		t.Fatalf("composed merge = %v, %v", got, err)
	}

	same := map[string]int{"y": 2}
	if _, err := MergeMaps(a, same, eq, RejectConflict[string, int]); err != nil {
		t.Fatalf("equal values must not conflict: %v", err)
	}
}

func TestUnionKeys(t *testing.T) {
	got := UnionKeys([]int{3, 1}, []int{1, 2, 3, 4})
	want := []int{3, 1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("UnionKeys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UnionKeys = %v, want %v", got, want)
		}
	}
}
