package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/inetemu/internal/logging"
)

// Merger combines two instances of one layer type.
//
// TypeName is the layer name the merger applies to. Merge receives the
// layers of both inputs and returns a new layer; it must not register
// anything, the merged emulator does that when it renders.
type Merger interface {
	Name() string
	TypeName() string
	Merge(a, b Layer) (Layer, error)
}

// Merge combines two unrendered emulators into a new one.
//
// Layers keep the registration order of a, followed by the layers only b
// has. A layer present on one side only is carried over as is; a layer on
// both sides is handed to the merger whose TypeName matches. Bindings of a
// take precedence over those of b. The inputs are consumed: layers carried
// over are shared with the result.
func Merge(a, b *Emulator, mergers []Merger, opts ...Option) (*Emulator, error) {
	if a.rendered || b.rendered {
		return nil, fmt.Errorf("%w: cannot merge a rendered emulator", ErrAlreadyRendered)
	}

	byType := make(map[string]Merger, len(mergers))
	for _, m := range mergers {
		if prev, dup := byType[m.TypeName()]; dup {
			return nil, fmt.Errorf("%w: mergers %q and %q both handle %q", ErrMergeConflict, prev.Name(), m.Name(), m.TypeName())
		}
		byType[m.TypeName()] = m
	}

	out := NewEmulator(opts...)
	for _, la := range a.Layers() {
		merged := la
		if lb, ok := b.renderer.Layer(la.Name()); ok {
			m, ok := byType[la.Name()]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrNoMerger, la.Name())
			}
			var err error
			merged, err = m.Merge(la, lb)
			if err != nil {
				return nil, fmt.Errorf("merge %s with %s: %w", la.Name(), m.Name(), err)
			}
			out.log.Debug(context.Background(), "layer merged", logging.String("layer", la.Name()), logging.String("merger", m.Name()))
		}
		if err := out.AddLayer(merged); err != nil {
			return nil, err
		}
	}
	for _, lb := range b.Layers() {
		if _, ok := a.renderer.Layer(lb.Name()); ok {
			continue
		}
		if err := out.AddLayer(lb); err != nil {
			return nil, err
		}
	}

	for _, bd := range a.Bindings() {
		out.AddBinding(bd)
	}
	for _, bd := range b.Bindings() {
		out.AddBinding(bd)
	}
	return out, nil
}

// ConflictFunc picks the value kept when both sides define key differently.
type ConflictFunc[K comparable, V any] func(key K, a, b V) (V, error)

// PreferA keeps the value of the first input.
func PreferA[K comparable, V any](_ K, a, _ V) (V, error) { return a, nil }

// RejectConflict fails the merge on any differing value.
func RejectConflict[K comparable, V any](key K, _, _ V) (V, error) {
	var zero V
	return zero, fmt.Errorf("%w: %v defined differently on both sides", ErrMergeConflict, key)
}

// MergeMaps unions a and b into a new map. Keys on both sides keep their
// value when equal reports true, otherwise onConflict decides. A nil
// onConflict means PreferA.
func MergeMaps[K comparable, V any](a, b map[K]V, equal func(V, V) bool, onConflict ConflictFunc[K, V]) (map[K]V, error) {
	if onConflict == nil {
		onConflict = PreferA[K, V]
	}
	out := make(map[K]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, vb := range b {
		va, ok := out[k]
		if !ok {
			out[k] = vb
			continue
		}
		if equal != nil && equal(va, vb) {
			continue
		}
		v, err := onConflict(k, va, vb)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// UnionKeys returns the keys of a in order followed by the keys of b that a
// lacks.
func UnionKeys[K comparable](a, b []K) []K {
	seen := make(map[K]struct{}, len(a)+len(b))
	out := make([]K, 0, len(a)+len(b))
	for _, list := range [][]K{a, b} {
		for _, k := range list {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
