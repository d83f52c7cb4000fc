package core

// Dependency is an ordering constraint declared by a layer.
//
// A forward dependency (Reverse == false) means Name must run before the
// declaring layer. A reverse dependency means the declaring layer must run
// before Name. Optional dependencies on layers that are not part of the
// build are skipped.
type Dependency struct {
	Name     string
	Reverse  bool
	Optional bool
}

// Layer is one protocol or service stage of a build.
//
// Configure runs for every layer before any layer renders; it is where
// entities get registered and virtual nodes get bound. Render may mutate
// nodes and networks but never removes entities.
type Layer interface {
	Name() string
	Dependencies() []Dependency
	Configure(emu *Emulator) error
	Render(emu *Emulator) error
}

// LayerBase carries the name and dependency declarations of a layer. Embed it
// to get Name, Dependencies and a no-op Configure.
type LayerBase struct {
	name string
	deps []Dependency
}

// NewLayerBase returns a base for the layer called name.
func NewLayerBase(name string) LayerBase {
	return LayerBase{name: name}
}

func (b *LayerBase) Name() string { return b.name }

// AddDependency declares an ordering constraint, see Dependency.
func (b *LayerBase) AddDependency(name string, reverse, optional bool) {
	b.deps = append(b.deps, Dependency{Name: name, Reverse: reverse, Optional: optional})
}

// Dependencies returns the declared constraints.
func (b *LayerBase) Dependencies() []Dependency {
	return append([]Dependency(nil), b.deps...)
}

// Configure is the default no-op configure step.
func (b *LayerBase) Configure(*Emulator) error { return nil }
