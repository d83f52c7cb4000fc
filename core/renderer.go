package core

import (
	"context"
	"fmt"
	"time"
)

// Phase is one pass of the renderer over all layers.
type Phase int

const (
	PhaseConfigure Phase = iota
	PhaseRender
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigure:
		return "configure"
	case PhaseRender:
		return "render"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type layerState int

const (
	statePending layerState = iota
	stateRendering
	stateDone
)

// RenderObserver is notified around every layer step.
type RenderObserver interface {
	LayerStarted(ctx context.Context, phase Phase, layer string) context.Context
	LayerFinished(ctx context.Context, phase Phase, layer string, elapsed time.Duration, err error)
}

type edge struct {
	name     string
	optional bool
}

// Renderer runs every registered layer exactly once per phase, in an order
// that honours forward, reverse and optional dependencies.
//
// The dependency table is owned by the renderer. A reverse dependency
// "A before B" is stored as a "before" edge on B, so it is discharged right
// before B runs regardless of when A itself is requested.
type Renderer struct {
	layers map[string]Layer
	order  []string

	forward map[string][]edge
	reverse map[string][]edge
	states  map[string]layerState

	observers []RenderObserver
	completed []string
}

// NewRenderer returns an empty renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		layers: make(map[string]Layer),
	}
}

// Add registers a layer. Names are unique.
func (r *Renderer) Add(l Layer) error {
	name := l.Name()
	if _, exists := r.layers[name]; exists {
		return fmt.Errorf("%w: %q", ErrLayerExists, name)
	}
	r.layers[name] = l
	r.order = append(r.order, name)
	return nil
}

// Layer returns the named layer.
func (r *Renderer) Layer(name string) (Layer, bool) {
	l, ok := r.layers[name]
	return l, ok
}

// Layers returns the layers in registration order.
func (r *Renderer) Layers() []Layer {
	out := make([]Layer, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.layers[name])
	}
	return out
}

// Observe adds an observer for subsequent runs.
func (r *Renderer) Observe(o RenderObserver) {
	if o != nil {
		r.observers = append(r.observers, o)
	}
}

// Completed returns the layer names in the order the last run finished them.
func (r *Renderer) Completed() []string {
	return append([]string(nil), r.completed...)
}

func (r *Renderer) buildTable() error {
	r.forward = make(map[string][]edge)
	r.reverse = make(map[string][]edge)
	for _, name := range r.order {
		for _, dep := range r.layers[name].Dependencies() {
			if !dep.Reverse {
				r.forward[name] = append(r.forward[name], edge{name: dep.Name, optional: dep.Optional})
				continue
			}
			if _, ok := r.layers[dep.Name]; !ok {
				if dep.Optional {
					continue
				}
				return fmt.Errorf("%w: %q must run before missing layer %q", ErrLayerNotFound, name, dep.Name)
			}
			r.reverse[dep.Name] = append(r.reverse[dep.Name], edge{name: name})
		}
	}
	return nil
}

// Run executes step for every layer in dependency order.
func (r *Renderer) Run(ctx context.Context, phase Phase, step func(context.Context, Layer) error) error {
	if err := r.buildTable(); err != nil {
		return err
	}
	r.states = make(map[string]layerState, len(r.order))
	r.completed = r.completed[:0]
	for _, name := range r.order {
		if err := r.request(ctx, phase, name, false, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) request(ctx context.Context, phase Phase, name string, optional bool, step func(context.Context, Layer) error) error {
	l, ok := r.layers[name]
	if !ok {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}

	switch r.states[name] {
	case stateDone:
		return nil
	case stateRendering:
		return fmt.Errorf("%w: %q is requested while it is waiting for its own dependencies", ErrDependencyCycle, name)
	}
	r.states[name] = stateRendering

	for _, dep := range r.forward[name] {
		if err := r.request(ctx, phase, dep.name, dep.optional, step); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, dep := range r.reverse[name] {
		if err := r.request(ctx, phase, dep.name, dep.optional, step); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for _, o := range r.observers {
		ctx = o.LayerStarted(ctx, phase, name)
	}
	start := time.Now()
	err := step(ctx, l)
	elapsed := time.Since(start)
	for _, o := range r.observers {
		o.LayerFinished(ctx, phase, name, elapsed, err)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", phase, name, err)
	}

	r.states[name] = stateDone
	r.completed = append(r.completed, name)
	return nil
}
