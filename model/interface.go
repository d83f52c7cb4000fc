package model

import "net/netip"

// Interface attaches a node to a network. It is owned by exactly one node.
type Interface struct {
	node    *Node
	network *Network
	address netip.Addr
	link    LinkProperties
}

func newInterface(node *Node, network *Network, address netip.Addr) *Interface {
	return &Interface{
		node:    node,
		network: network,
		address: address,
		link:    network.LinkProperties(),
	}
}

// Name is the interface name inside the node, which is the network name.
func (i *Interface) Name() string                   { return i.network.Name() }
func (i *Interface) Node() *Node                    { return i.node }
func (i *Interface) Network() *Network              { return i.network }
func (i *Interface) Address() netip.Addr            { return i.address }
func (i *Interface) LinkProperties() LinkProperties { return i.link }

// PrefixAddress returns the address with the network's prefix length, e.g. 10.150.0.254/24.
func (i *Interface) PrefixAddress() netip.Prefix {
	return netip.PrefixFrom(i.address, i.network.Prefix().Bits())
}

// SetLinkProperties overrides the link quality inherited from the network.
func (i *Interface) SetLinkProperties(p LinkProperties) {
	i.link = p
}
