package model

import (
	"fmt"
	"net/netip"
)

// NetworkType distinguishes the L2 segments an emulation can contain.
type NetworkType int

const (
	NetworkLocal NetworkType = iota
	NetworkInternetExchange
	NetworkBridge
	NetworkCrossConnect
)

func (t NetworkType) String() string {
	switch t {
	case NetworkLocal:
		return "Local"
	case NetworkInternetExchange:
		return "InternetExchange"
	case NetworkBridge:
		return "Bridge"
	case NetworkCrossConnect:
		return "CrossConnect"
	default:
		return fmt.Sprintf("NetworkType(%d)", int(t))
	}
}

// LinkProperties are the emulated link-quality parameters of a segment or
// an interface attached to it.
type LinkProperties struct {
	LatencyMs    int     `yaml:"latency_ms"`
	BandwidthBps int     `yaml:"bandwidth_bps"`
	DropPercent  float64 `yaml:"drop_percent"`
}

// Network is one L2 segment with an IPv4 prefix.
//
// A network associates the nodes connected to it but does not own them.
type Network struct {
	name       string
	scope      string
	netType    NetworkType
	prefix     netip.Prefix
	constraint AddressAssignmentConstraint
	link       LinkProperties
	mtu        int

	assigners map[NodeRole]*OffsetGenerator
	nodes     []*Node
}

// NewNetwork creates a network. A nil constraint selects the default one.
func NewNetwork(name, scope string, netType NetworkType, prefix netip.Prefix, constraint *AddressAssignmentConstraint) *Network {
	c := DefaultAddressAssignmentConstraint()
	if constraint != nil {
		c = *constraint
	}
	return &Network{
		name:       name,
		scope:      scope,
		netType:    netType,
		prefix:     prefix.Masked(),
		constraint: c,
		mtu:        1500,
		assigners:  make(map[NodeRole]*OffsetGenerator),
	}
}

func (n *Network) Name() string                                   { return n.name }
func (n *Network) Scope() string                                  { return n.scope }
func (n *Network) Type() NetworkType                              { return n.netType }
func (n *Network) Prefix() netip.Prefix                           { return n.prefix }
func (n *Network) MTU() int                                       { return n.mtu }
func (n *Network) LinkProperties() LinkProperties                 { return n.link }
func (n *Network) AddressConstraint() AddressAssignmentConstraint { return n.constraint }

// SetMTU overrides the default MTU of 1500.
func (n *Network) SetMTU(mtu int) *Network {
	n.mtu = mtu
	return n
}

// SetDefaultLinkProperties sets the link quality new interfaces inherit.
func (n *Network) SetDefaultLinkProperties(p LinkProperties) *Network {
	n.link = p
	return n
}

// SetAddressConstraint replaces the constraint. It fails once any automatic
// address has been handed out.
func (n *Network) SetAddressConstraint(c AddressAssignmentConstraint) error {
	if len(n.assigners) > 0 {
		return fmt.Errorf("%w: network %s/%s", ErrConstraintLocked, n.scope, n.name)
	}
	n.constraint = c
	return nil
}

// Assign hands out the next address for a node of role. On an exchange
// network the offset is the member's AS number (the exchange id for the route
// server) so that member addresses are predictable.
func (n *Network) Assign(role NodeRole, asn int) (netip.Addr, error) {
	if n.netType == NetworkInternetExchange {
		addr, err := AddrAt(n.prefix, asn)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("network %s/%s: %w", n.scope, n.name, err)
		}
		return addr, nil
	}

	gen, ok := n.assigners[role]
	if !ok {
		gen = n.constraint.OffsetGenerator(role)
		n.assigners[role] = gen
	}
	off, err := gen.Next()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("network %s/%s role %s: %w", n.scope, n.name, role, err)
	}
	addr, err := AddrAt(n.prefix, off)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("network %s/%s: %w", n.scope, n.name, err)
	}
	return addr, nil
}

// Associate records that node has an interface on this network.
func (n *Network) Associate(node *Node) {
	for _, existing := range n.nodes {
		if existing == node {
			return
		}
	}
	n.nodes = append(n.nodes, node)
}

// AssociatedNodes returns the nodes attached to the network in join order.
func (n *Network) AssociatedNodes() []*Node {
	return append([]*Node(nil), n.nodes...)
}
