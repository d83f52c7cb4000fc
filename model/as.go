package model

import (
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/inetemu/kb"
)

// AutonomousSystem owns the networks, routers and hosts of one AS.
//
// For AS numbers up to 255 it carries an automatic pool of /24 subnets carved
// from 10.{asn}.0.0/16. Subnets are handed out in order and never reused.
type AutonomousSystem struct {
	asn        int
	nextSubnet int

	nets     map[string]*Network
	netOrder []string

	routers     map[string]*Node
	routerOrder []string
	hosts       map[string]*Node
	hostOrder   []string
}

// NewAutonomousSystem creates an empty AS.
func NewAutonomousSystem(asn int) *AutonomousSystem {
	return &AutonomousSystem{
		asn:     asn,
		nets:    make(map[string]*Network),
		routers: make(map[string]*Node),
		hosts:   make(map[string]*Node),
	}
}

func (a *AutonomousSystem) ASN() int { return a.asn }

// Scope is the registry scope of the AS objects.
func (a *AutonomousSystem) Scope() string { return asnScope(a.asn) }

// HasSubnetPool reports whether automatic prefixes are available.
func (a *AutonomousSystem) HasSubnetPool() bool { return a.asn > 0 && a.asn <= 255 }

func (a *AutonomousSystem) allocateSubnet() (netip.Prefix, error) {
	if !a.HasSubnetPool() {
		return netip.Prefix{}, fmt.Errorf("%w: AS%d", ErrNoSubnetPool, a.asn)
	}
	if a.nextSubnet > 255 {
		return netip.Prefix{}, fmt.Errorf("%w: AS%d subnet pool", ErrAddressExhausted, a.asn)
	}
	p := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(a.asn), byte(a.nextSubnet), 0}), 24)
	a.nextSubnet++
	return p, nil
}

// CreateNetwork creates a local network. prefix is AutoAddress or a CIDR.
func (a *AutonomousSystem) CreateNetwork(name, prefix string) (*Network, error) {
	if _, exists := a.nets[name]; exists {
		return nil, fmt.Errorf("%w: AS%d %q", ErrNetworkExists, a.asn, name)
	}
	var (
		p   netip.Prefix
		err error
	)
	if prefix == "" || prefix == AutoAddress {
		p, err = a.allocateSubnet()
	} else {
		p, err = netip.ParsePrefix(prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("AS%d network %q: %w", a.asn, name, err)
	}
	n := NewNetwork(name, a.Scope(), NetworkLocal, p, nil)
	a.nets[name] = n
	a.netOrder = append(a.netOrder, name)
	return n, nil
}

// Network returns the named network.
func (a *AutonomousSystem) Network(name string) (*Network, error) {
	n, ok := a.nets[name]
	if !ok {
		return nil, fmt.Errorf("%w: AS%d %q", ErrNetworkNotFound, a.asn, name)
	}
	return n, nil
}

// Networks returns networks in creation order.
func (a *AutonomousSystem) Networks() []*Network {
	out := make([]*Network, 0, len(a.netOrder))
	for _, name := range a.netOrder {
		out = append(out, a.nets[name])
	}
	return out
}

// CreateRouter creates a router node.
func (a *AutonomousSystem) CreateRouter(name string) (*Node, error) {
	if _, exists := a.routers[name]; exists {
		return nil, fmt.Errorf("%w: AS%d router %q", ErrNodeExists, a.asn, name)
	}
	n := NewNode(name, RoleRouter, a.asn, a.Scope())
	a.routers[name] = n
	a.routerOrder = append(a.routerOrder, name)
	return n, nil
}

// Router returns the named router.
func (a *AutonomousSystem) Router(name string) (*Node, error) {
	n, ok := a.routers[name]
	if !ok {
		return nil, fmt.Errorf("%w: AS%d router %q", ErrNodeNotFound, a.asn, name)
	}
	return n, nil
}

func (a *AutonomousSystem) Routers() []*Node {
	out := make([]*Node, 0, len(a.routerOrder))
	for _, name := range a.routerOrder {
		out = append(out, a.routers[name])
	}
	return out
}

// CreateHost creates a host node.
func (a *AutonomousSystem) CreateHost(name string) (*Node, error) {
	if _, exists := a.hosts[name]; exists {
		return nil, fmt.Errorf("%w: AS%d host %q", ErrNodeExists, a.asn, name)
	}
	n := NewNode(name, RoleHost, a.asn, a.Scope())
	a.hosts[name] = n
	a.hostOrder = append(a.hostOrder, name)
	return n, nil
}

// Host returns the named host.
func (a *AutonomousSystem) Host(name string) (*Node, error) {
	n, ok := a.hosts[name]
	if !ok {
		return nil, fmt.Errorf("%w: AS%d host %q", ErrNodeNotFound, a.asn, name)
	}
	return n, nil
}

func (a *AutonomousSystem) Hosts() []*Node {
	out := make([]*Node, 0, len(a.hostOrder))
	for _, name := range a.hostOrder {
		out = append(out, a.hosts[name])
	}
	return out
}

// Register stores every network and node of the AS in reg.
func (a *AutonomousSystem) Register(reg *kb.Registry) error {
	scoped := reg.Scoped(a.Scope())
	for _, n := range a.Networks() {
		if _, err := scoped.Register(kb.KindNetwork, n.Name(), n); err != nil {
			return err
		}
	}
	for _, n := range a.Routers() {
		if _, err := scoped.Register(kb.KindRouter, n.Name(), n); err != nil {
			return err
		}
	}
	for _, n := range a.Hosts() {
		if _, err := scoped.Register(kb.KindHost, n.Name(), n); err != nil {
			return err
		}
	}
	return nil
}

// Configure attaches routers, then hosts, to their networks.
func (a *AutonomousSystem) Configure(reg *kb.Registry) error {
	for _, n := range a.Routers() {
		if err := n.Configure(reg); err != nil {
			return err
		}
	}
	for _, n := range a.Hosts() {
		if err := n.Configure(reg); err != nil {
			return err
		}
	}
	return nil
}
