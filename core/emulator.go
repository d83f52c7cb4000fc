package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

const tracerName = "github.com/signalsfoundry/inetemu/core"

// MetricsRecorder receives build measurements.
type MetricsRecorder interface {
	ObserveBuild(elapsed time.Duration, entities map[string]int, err error)
	ObserveBinding(action Action, err error)
}

// Compiler turns a rendered registry into artifacts under outDir.
type Compiler interface {
	Name() string
	Compile(ctx context.Context, reg *kb.Registry, outDir string) error
}

// Emulator is the context of one build: the registry, the layers and the
// bindings. Emulators are never shared between builds.
type Emulator struct {
	registry *kb.Registry
	renderer *Renderer
	resolver *Resolver

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	seed    uint64

	rendered bool
}

// Option customises Emulator construction.
type Option func(*Emulator)

// WithLogger sets the logger used during the build.
func WithLogger(l logging.Logger) Option {
	return func(e *Emulator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches a recorder. When it also implements
// RenderObserver it is notified around every layer step.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Emulator) {
		e.metrics = m
		if o, ok := m.(RenderObserver); ok {
			e.renderer.Observe(o)
		}
	}
}

// WithObserver adds a render observer.
func WithObserver(o RenderObserver) Option {
	return func(e *Emulator) {
		e.renderer.Observe(o)
	}
}

// WithRandSeed seeds the Random binding action.
func WithRandSeed(seed uint64) Option {
	return func(e *Emulator) {
		e.seed = seed
		e.resolver.rng = NewResolver(seed).rng
	}
}

// NewEmulator returns an empty build context.
func NewEmulator(opts ...Option) *Emulator {
	e := &Emulator{
		registry: kb.NewRegistry(),
		renderer: NewRenderer(),
		resolver: NewResolver(0),
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.renderer.Observe(spanObserver{tracer: e.tracer})
	e.renderer.Observe(logObserver{log: e.log})
	return e
}

// Registry exposes the entity registry of the build.
func (e *Emulator) Registry() *kb.Registry { return e.registry }

// Logger returns the build logger.
func (e *Emulator) Logger() logging.Logger { return e.log }

// Seed returns the seed of the Random binding action.
func (e *Emulator) Seed() uint64 { return e.seed }

// AddLayer registers l with the renderer and the registry.
func (e *Emulator) AddLayer(l Layer) error {
	if e.rendered {
		return ErrAlreadyRendered
	}
	if err := e.renderer.Add(l); err != nil {
		return err
	}
	if _, err := e.registry.Register(kb.ScopeEmulator, kb.KindLayer, l.Name(), l); err != nil {
		return err
	}
	return nil
}

// Layer returns the layer called name.
func (e *Emulator) Layer(name string) (Layer, error) {
	l, ok := e.renderer.Layer(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}
	return l, nil
}

// Layers returns the layers in registration order.
func (e *Emulator) Layers() []Layer { return e.renderer.Layers() }

// LayerAs returns the layer called name as a T.
func LayerAs[T Layer](e *Emulator, name string) (T, error) {
	var zero T
	l, err := e.Layer(name)
	if err != nil {
		return zero, err
	}
	typed, ok := l.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T", ErrLayerType, name, l)
	}
	return typed, nil
}

// AddBinding appends a binding. Earlier bindings take precedence.
func (e *Emulator) AddBinding(b *Binding) {
	e.resolver.Add(b)
}

// Bindings returns the shared bindings in precedence order.
func (e *Emulator) Bindings() []*Binding { return e.resolver.Bindings() }

// Resolve binds vnode to a physical host.
func (e *Emulator) Resolve(vnode string) (*model.Node, error) {
	return e.resolvePinned(vnode, nil)
}

// Resolved returns the node vnode was bound to, if it was.
func (e *Emulator) Resolved(vnode string) (*model.Node, bool) {
	return e.resolver.Resolved(vnode)
}

func (e *Emulator) resolvePinned(vnode string, pinned *Binding) (*model.Node, error) {
	node, b, err := e.resolver.ResolvePinned(vnode, pinned, e.registry)
	if e.metrics != nil && (b != nil || err != nil) {
		action := ActionFirst
		if b != nil {
			action = b.Action
		}
		e.metrics.ObserveBinding(action, err)
	}
	if err != nil {
		return nil, err
	}
	if b != nil {
		e.log.Debug(context.Background(), "virtual node bound",
			logging.String("vnode", vnode),
			logging.String("node", node.Key().String()),
			logging.String("action", b.Action.String()),
		)
	}
	return node, nil
}

// Rendered reports whether Render has completed.
func (e *Emulator) Rendered() bool { return e.rendered }

// RenderOrder returns the layer order of the last pass.
func (e *Emulator) RenderOrder() []string { return e.renderer.Completed() }

// Render runs the configure pass over every layer, then the render pass. An
// emulator renders at most once.
func (e *Emulator) Render(ctx context.Context) (err error) {
	if e.rendered {
		return ErrAlreadyRendered
	}
	ctx, span := e.tracer.Start(ctx, "emulator.render",
		trace.WithAttributes(attribute.Int("layers", len(e.renderer.order))),
	)
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if e.metrics != nil {
			e.metrics.ObserveBuild(elapsed, e.registry.CountByKind(), err)
		}
	}()

	e.log.Info(ctx, "configuring layers", logging.Int("layers", len(e.renderer.order)))
	if err = e.renderer.Run(ctx, PhaseConfigure, func(_ context.Context, l Layer) error {
		return l.Configure(e)
	}); err != nil {
		e.log.Error(ctx, "configure failed", logging.Err(err))
		return err
	}

	e.log.Info(ctx, "rendering layers")
	if err = e.renderer.Run(ctx, PhaseRender, func(_ context.Context, l Layer) error {
		return l.Render(e)
	}); err != nil {
		e.log.Error(ctx, "render failed", logging.Err(err))
		return err
	}

	e.rendered = true
	e.log.Info(ctx, "build rendered",
		logging.Int("entities", e.registry.Len()),
		logging.Any("order", e.renderer.Completed()),
	)
	return nil
}

// Compile hands the rendered registry to c.
func (e *Emulator) Compile(ctx context.Context, c Compiler, outDir string) error {
	if !e.rendered {
		return ErrNotRendered
	}
	ctx, span := e.tracer.Start(ctx, "emulator.compile",
		trace.WithAttributes(attribute.String("compiler", c.Name())),
	)
	defer span.End()

	e.log.Info(ctx, "compiling", logging.String("compiler", c.Name()), logging.String("out", outDir))
	ctx = logging.ContextWithLogger(ctx, e.log)
	if err := c.Compile(ctx, e.registry, outDir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("compile %s: %w", c.Name(), err)
	}
	return nil
}

// spanObserver opens one span per layer step.
type spanObserver struct {
	tracer trace.Tracer
}

func (o spanObserver) LayerStarted(ctx context.Context, phase Phase, layer string) context.Context {
	ctx, _ = o.tracer.Start(ctx, phase.String()+" "+layer,
		trace.WithAttributes(
			attribute.String("layer", layer),
			attribute.String("phase", phase.String()),
		),
	)
	return ctx
}

func (o spanObserver) LayerFinished(ctx context.Context, _ Phase, _ string, _ time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// logObserver reports every finished layer step at debug level.
type logObserver struct {
	log logging.Logger
}

func (o logObserver) LayerStarted(ctx context.Context, _ Phase, _ string) context.Context { return ctx }

func (o logObserver) LayerFinished(ctx context.Context, phase Phase, layer string, elapsed time.Duration, err error) {
	if err != nil {
		o.log.Warn(ctx, "layer failed", logging.String("phase", phase.String()), logging.String("layer", layer), logging.Err(err))
		return
	}
	o.log.Debug(ctx, "layer done", logging.String("phase", phase.String()), logging.String("layer", layer), logging.Duration("elapsed", elapsed))
}
