package core

import (
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Resolver turns virtual node names into physical hosts using an ordered
// list of bindings.
//
// Candidates are scanned in registry insertion order, so First and Last are
// reproducible for a given build script. A node picked by a First binding is
// claimed and never offered to another virtual node.
type Resolver struct {
	bindings []*Binding
	claimed  map[*model.Node]struct{}
	resolved map[string]*model.Node
	rng      *rand.Rand
}

// NewResolver returns a resolver whose Random action draws from seed.
func NewResolver(seed uint64) *Resolver {
	return &Resolver{
		claimed:  make(map[*model.Node]struct{}),
		resolved: make(map[string]*model.Node),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Add appends a binding. Earlier bindings take precedence.
func (r *Resolver) Add(b *Binding) {
	r.bindings = append(r.bindings, b)
}

// Bindings returns the bindings in precedence order.
func (r *Resolver) Bindings() []*Binding {
	return append([]*Binding(nil), r.bindings...)
}

// Resolved returns the node vnode was bound to, if it was.
func (r *Resolver) Resolved(vnode string) (*model.Node, bool) {
	n, ok := r.resolved[vnode]
	return n, ok
}

// Claimed reports whether node was claimed by a First binding.
func (r *Resolver) Claimed(node *model.Node) bool {
	_, ok := r.claimed[node]
	return ok
}

// Resolve binds vnode to a host in reg. Each matching binding is tried in
// order; the first one with a satisfying candidate wins. A vnode resolves at
// most once, later calls return the cached node.
func (r *Resolver) Resolve(vnode string, reg *kb.Registry) (*model.Node, *Binding, error) {
	return r.resolve(vnode, reg, r.bindings)
}

// ResolvePinned binds vnode using only b. It is used for installs that name
// their target directly, so a missing target is an error rather than a
// reason to consult the shared bindings.
func (r *Resolver) ResolvePinned(vnode string, b *Binding, reg *kb.Registry) (*model.Node, *Binding, error) {
	if b == nil {
		return r.Resolve(vnode, reg)
	}
	n, used, err := r.resolve(vnode, reg, []*Binding{b})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: named host missing or already taken", err)
	}
	return n, used, nil
}

func (r *Resolver) resolve(vnode string, reg *kb.Registry, rules []*Binding) (*model.Node, *Binding, error) {
	if n, ok := r.resolved[vnode]; ok {
		return n, nil, nil
	}

	for _, b := range rules {
		if !b.Matches(vnode) {
			continue
		}
		var candidates []*model.Node
		for _, key := range reg.KeysByKind(kb.KindHost) {
			node, err := kb.GetAs[*model.Node](reg, key.Scope, key.Kind, key.Name)
			if err != nil {
				continue
			}
			if _, taken := r.claimed[node]; taken {
				continue
			}
			if !b.Accepts(vnode, node) {
				continue
			}
			if b.Action == ActionFirst {
				r.claimed[node] = struct{}{}
				r.resolved[vnode] = node
				return node, b, nil
			}
			candidates = append(candidates, node)
		}
		if len(candidates) == 0 {
			continue
		}

		var node *model.Node
		switch b.Action {
		case ActionLast:
			node = candidates[len(candidates)-1]
		case ActionRandom:
			node = candidates[r.rng.IntN(len(candidates))]
		}
		r.resolved[vnode] = node
		return node, b, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnbindable, vnode)
}
