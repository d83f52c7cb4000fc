package model

import (
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/inetemu/kb"
)

// InternetExchange is a shared peering LAN with a route server.
type InternetExchange struct {
	id      int
	network *Network
	rs      *Node
}

// IXName is the registry name used for both the peering network and the
// route server of exchange id.
func IXName(id int) string { return fmt.Sprintf("ix%d", id) }

// NewInternetExchange creates the exchange together with its peering network
// and route server, and joins the route server to the network. prefix is
// AutoAddress (10.{id}.0.0/24) or a CIDR.
func NewInternetExchange(id int, prefix string) (*InternetExchange, error) {
	var p netip.Prefix
	if prefix == "" || prefix == AutoAddress {
		if id <= 0 || id > 255 {
			return nil, fmt.Errorf("%w: IX%d", ErrNoSubnetPool, id)
		}
		p = netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(id), 0, 0}), 24)
	} else {
		var err error
		p, err = netip.ParsePrefix(prefix)
		if err != nil {
			return nil, fmt.Errorf("IX%d prefix: %w", id, err)
		}
	}

	name := IXName(id)
	network := NewNetwork(name, kb.ScopeIX, NetworkInternetExchange, p, nil)
	rs := NewNode(name, RoleRouteServer, id, kb.ScopeIX)
	rs.JoinNetwork(name, AutoAddress)

	return &InternetExchange{id: id, network: network, rs: rs}, nil
}

func (x *InternetExchange) ID() int              { return x.id }
func (x *InternetExchange) Network() *Network    { return x.network }
func (x *InternetExchange) RouteServer() *Node   { return x.rs }
func (x *InternetExchange) Prefix() netip.Prefix { return x.network.Prefix() }

// Register stores the peering network and the route server in reg.
func (x *InternetExchange) Register(reg *kb.Registry) error {
	name := IXName(x.id)
	if _, err := reg.Register(kb.ScopeIX, kb.KindNetwork, name, x.network); err != nil {
		return err
	}
	if _, err := reg.Register(kb.ScopeIX, kb.KindRouteServer, name, x.rs); err != nil {
		return err
	}
	return nil
}

// Configure attaches the route server to the peering network.
func (x *InternetExchange) Configure(reg *kb.Registry) error {
	return x.rs.Configure(reg)
}
