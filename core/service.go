package core

import (
	"fmt"
	"net/netip"
	"regexp"

	"github.com/signalsfoundry/inetemu/model"
)

// ServiceHooks are the per-service callbacks of a Service.
//
// NewServer builds the server handle for a fresh install. ConfigureServer
// runs once per resolved (server, node) pair during the configure pass,
// before any layer renders. InstallServer runs once per pair during the
// service's own render step.
type ServiceHooks[S any] struct {
	NewServer       func(vnode string) S
	ConfigureServer func(emu *Emulator, server S, node *model.Node) error
	InstallServer   func(emu *Emulator, server S, node *model.Node) error
}

// Install is a server waiting to be bound to a physical node. Binding, when
// set, is tried before the emulator's shared bindings.
type Install[S any] struct {
	VNode   string
	Server  S
	Binding *Binding
}

// Target is an install bound to its physical node.
type Target[S any] struct {
	VNode  string
	Server S
	Node   *model.Node
}

// Service is a layer that installs servers on virtual nodes. Concrete
// services embed it and supply hooks.
type Service[S any] struct {
	LayerBase

	hooks   ServiceHooks[S]
	order   []string
	pending map[string]Install[S]
	targets []Target[S]
}

// NewService returns an empty service layer.
func NewService[S any](name string, hooks ServiceHooks[S]) *Service[S] {
	return &Service[S]{
		LayerBase: NewLayerBase(name),
		hooks:     hooks,
		pending:   make(map[string]Install[S]),
	}
}

// Install returns the server for vnode, creating it on first use.
func (s *Service[S]) Install(vnode string) S {
	if inst, ok := s.pending[vnode]; ok {
		return inst.Server
	}
	inst := Install[S]{VNode: vnode, Server: s.hooks.NewServer(vnode)}
	s.pending[vnode] = inst
	s.order = append(s.order, vnode)
	return inst.Server
}

// InstallByName installs on the host called name in asn.
func (s *Service[S]) InstallByName(asn int, name string) S {
	vnode := fmt.Sprintf("vnode_%d_%s", asn, name)
	server := s.Install(vnode)
	inst := s.pending[vnode]
	inst.Binding = MustBinding(regexp.QuoteMeta(vnode), ActionFirst, Filter{ASN: asn, NodeName: regexp.QuoteMeta(name)})
	s.pending[vnode] = inst
	return server
}

// InstallByIP installs on the host that owns addr. asn narrows the search
// when non-zero.
func (s *Service[S]) InstallByIP(addr netip.Addr, asn int) S {
	vnode := "vnode_" + addr.String()
	if asn != 0 {
		vnode = fmt.Sprintf("vnode_%d_%s", asn, addr)
	}
	server := s.Install(vnode)
	inst := s.pending[vnode]
	inst.Binding = MustBinding(regexp.QuoteMeta(vnode), ActionFirst, Filter{ASN: asn, IP: addr})
	s.pending[vnode] = inst
	return server
}

// Pending returns the installs in the order they were made.
func (s *Service[S]) Pending() []Install[S] {
	out := make([]Install[S], 0, len(s.order))
	for _, vnode := range s.order {
		out = append(out, s.pending[vnode])
	}
	return out
}

// Server returns the server installed on vnode.
func (s *Service[S]) Server(vnode string) (S, bool) {
	inst, ok := s.pending[vnode]
	return inst.Server, ok
}

// Adopt takes over an install made on another instance of the service.
// Installing the same virtual node twice is a merge conflict.
func (s *Service[S]) Adopt(inst Install[S]) error {
	if _, exists := s.pending[inst.VNode]; exists {
		return fmt.Errorf("%w: %s: virtual node %q installed on both sides", ErrMergeConflict, s.Name(), inst.VNode)
	}
	s.pending[inst.VNode] = inst
	s.order = append(s.order, inst.VNode)
	return nil
}

// AdoptAll adopts every pending install of srcs into dst, in order.
func AdoptAll[S any](dst *Service[S], srcs ...*Service[S]) error {
	for _, src := range srcs {
		for _, inst := range src.Pending() {
			if err := dst.Adopt(inst); err != nil {
				return err
			}
		}
	}
	return nil
}

// Targets returns the bound servers after the configure pass.
func (s *Service[S]) Targets() []Target[S] {
	return append([]Target[S](nil), s.targets...)
}

// Configure binds every install and runs the configure hook on it.
func (s *Service[S]) Configure(emu *Emulator) error {
	s.targets = s.targets[:0]
	for _, vnode := range s.order {
		inst := s.pending[vnode]
		node, err := emu.resolvePinned(vnode, inst.Binding)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		if node.HasService(s.Name()) {
			return fmt.Errorf("%w: %s on %s (virtual node %q)", ErrServiceConflict, s.Name(), node.Key(), vnode)
		}
		node.AddService(s.Name())
		if s.hooks.ConfigureServer != nil {
			if err := s.hooks.ConfigureServer(emu, inst.Server, node); err != nil {
				return fmt.Errorf("%s: configure %q on %s: %w", s.Name(), vnode, node.Key(), err)
			}
		}
		s.targets = append(s.targets, Target[S]{VNode: vnode, Server: inst.Server, Node: node})
	}
	return nil
}

// Render runs the install hook on every bound server.
func (s *Service[S]) Render(emu *Emulator) error {
	if s.hooks.InstallServer == nil {
		return nil
	}
	for _, t := range s.targets {
		if err := s.hooks.InstallServer(emu, t.Server, t.Node); err != nil {
			return fmt.Errorf("%s: install %q on %s: %w", s.Name(), t.VNode, t.Node.Key(), err)
		}
	}
	return nil
}
