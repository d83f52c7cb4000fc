// Package kb holds the keyed entity registry that every build context owns.
//
// Entities are addressed by (scope, kind, name). The scope is usually a
// decimal AS number, "ix" for exchange-point objects, or "emu" for layers.
package kb

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityExists is returned when a (scope, kind, name) key is registered twice.
	ErrEntityExists = errors.New("entity already registered")
	// ErrEntityNotFound is returned when a key is not present.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityType is returned by the typed helpers when the stored object
	// has an unexpected type.
	ErrEntityType = errors.New("entity has unexpected type")
)

// Well-known entity kinds.
const (
	KindNetwork     = "net"
	KindRouter      = "rnode"
	KindHost        = "hnode"
	KindRouteServer = "rs"
	KindLayer       = "layer"
)

// Reserved scopes.
const (
	ScopeIX       = "ix"
	ScopeEmulator = "emu"
)

// Key addresses one registry entry.
type Key struct {
	Scope string
	Kind  string
	Name  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Scope, k.Kind, k.Name)
}

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventRegistered EventType = iota
)

// Event is emitted to subscribers when an entity is registered.
type Event struct {
	Type   EventType
	Key    Key
	Object any
}

// Registry is an in-memory store of topology and service objects.
//
// Iteration order of every listing method is registration order, which keeps
// binding resolution and artifact output reproducible across runs.
//
// Registry is not safe for concurrent use: a build renders on a single
// goroutine and is the only writer.
type Registry struct {
	objects map[Key]any
	order   []Key

	subs   []subscriber
	nextID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[Key]any),
	}
}

// Register stores obj under (scope, kind, name) and returns it. It fails if
// the key already exists.
func (r *Registry) Register(scope, kind, name string, obj any) (any, error) {
	key := Key{Scope: scope, Kind: kind, Name: name}
	if _, exists := r.objects[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrEntityExists, key)
	}
	r.objects[key] = obj
	r.order = append(r.order, key)

	event := Event{Type: EventRegistered, Key: key, Object: obj}
	for _, sub := range r.subs {
		sub.fn(event)
	}
	return obj, nil
}

// Get returns the object stored under (scope, kind, name).
func (r *Registry) Get(scope, kind, name string) (any, error) {
	key := Key{Scope: scope, Kind: kind, Name: name}
	obj, ok := r.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}
	return obj, nil
}

// Has reports whether (scope, kind, name) is registered.
func (r *Registry) Has(scope, kind, name string) bool {
	_, ok := r.objects[Key{Scope: scope, Kind: kind, Name: name}]
	return ok
}

// GetByKind returns every object of the given kind in scope.
func (r *Registry) GetByKind(scope, kind string) []any {
	var out []any
	for _, key := range r.order {
		if key.Scope == scope && key.Kind == kind {
			out = append(out, r.objects[key])
		}
	}
	return out
}

// GetByScope returns every object in scope.
func (r *Registry) GetByScope(scope string) []any {
	var out []any
	for _, key := range r.order {
		if key.Scope == scope {
			out = append(out, r.objects[key])
		}
	}
	return out
}

// GetAll returns a snapshot of every key and object.
func (r *Registry) GetAll() map[Key]any {
	out := make(map[Key]any, len(r.objects))
	for k, v := range r.objects {
		out[k] = v
	}
	return out
}

// Keys returns all keys in registration order.
func (r *Registry) Keys() []Key {
	return append([]Key(nil), r.order...)
}

// KeysByKind returns the keys of the given kind across all scopes, in
// registration order.
func (r *Registry) KeysByKind(kind string) []Key {
	var out []Key
	for _, key := range r.order {
		if key.Kind == kind {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	return len(r.order)
}

// CountByKind returns the number of entities per kind.
func (r *Registry) CountByKind() map[string]int {
	out := make(map[string]int)
	for _, key := range r.order {
		out[key.Kind]++
	}
	return out
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscriber{id: id, fn: fn})

	return func() {
		for i, sub := range r.subs {
			if sub.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

type subscriber struct {
	id int
	fn func(Event)
}

// Scoped returns a view of the registry bound to scope.
func (r *Registry) Scoped(scope string) *ScopedRegistry {
	return &ScopedRegistry{scope: scope, reg: r}
}

// GetAs fetches (scope, kind, name) and asserts it to T.
func GetAs[T any](r *Registry, scope, kind, name string) (T, error) {
	var zero T
	obj, err := r.Get(scope, kind, name)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s/%s/%s is %T", ErrEntityType, scope, kind, name, obj)
	}
	return v, nil
}

// ListAs returns every object of kind in scope that is a T. Objects of other
// types are skipped.
func ListAs[T any](r *Registry, scope, kind string) []T {
	var out []T
	for _, obj := range r.GetByKind(scope, kind) {
		if v, ok := obj.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
