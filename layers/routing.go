package layers

import (
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Routing tables every router carries.
const (
	DirectTable = "t_direct"
	BGPTable    = "t_bgp"
	OSPFTable   = "t_ospf"
)

// DefaultLoopbackPool is where router loopbacks come from.
var DefaultLoopbackPool = netip.MustParsePrefix("10.0.0.0/16")

// Routing gives every router a loopback and a base BIRD configuration, and
// points hosts at a router on their network.
type Routing struct {
	core.LayerBase

	pool netip.Prefix
	next int
}

// NewRouting returns the routing layer using DefaultLoopbackPool.
func NewRouting() *Routing {
	r := &Routing{LayerBase: core.NewLayerBase(RoutingName), pool: DefaultLoopbackPool}
	r.AddDependency(BaseName, false, false)
	return r
}

// SetLoopbackPool replaces the loopback pool.
func (r *Routing) SetLoopbackPool(p netip.Prefix) *Routing {
	r.pool = p
	return r
}

// LoopbackPool returns the loopback pool.
func (r *Routing) LoopbackPool() netip.Prefix { return r.pool }

// Configure assigns loopbacks to routers in registry order.
func (r *Routing) Configure(emu *core.Emulator) error {
	r.next = 0
	routers, err := nodesOfKind(emu.Registry(), kb.KindRouter)
	if err != nil {
		return err
	}
	for _, router := range routers {
		r.next++
		addr, err := model.AddrAt(r.pool, r.next)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLoopbackExhausted, router.Key(), err)
		}
		rc, err := router.Routing()
		if err != nil {
			return err
		}
		rc.SetLoopback(addr)
	}
	return nil
}

// Render writes the base BIRD configuration and the host default routes.
func (r *Routing) Render(emu *core.Emulator) error {
	reg := emu.Registry()

	routers, err := nodesOfKind(reg, kb.KindRouter)
	if err != nil {
		return err
	}
	for _, router := range routers {
		if err := renderRouterBase(router, true); err != nil {
			return err
		}
	}

	servers, err := nodesOfKind(reg, kb.KindRouteServer)
	if err != nil {
		return err
	}
	for _, rs := range servers {
		if err := renderRouterBase(rs, false); err != nil {
			return err
		}
	}

	hosts, err := nodesOfKind(reg, kb.KindHost)
	if err != nil {
		return err
	}
	for _, host := range hosts {
		gw, dev, ok := defaultGateway(host)
		if !ok {
			continue
		}
		host.AppendStartCommand("ip route del default 2> /dev/null", false)
		host.AppendStartCommand(fmt.Sprintf("ip route add default via %s dev %s", gw, dev), false)
	}
	return nil
}

func renderRouterBase(n *model.Node, withKernel bool) error {
	rc, err := n.Routing()
	if err != nil {
		return err
	}
	n.AddSoftware("bird2")
	// The header goes first; lines appended before this layer ran stay below it.
	n.PrependFile(model.BirdConfigPath, fmt.Sprintf("router id %s;\n", rc.RouterID()))
	if err := rc.AddProtocol("device", "device1", "    scan time 10;\n"); err != nil {
		return err
	}
	if withKernel {
		if err := rc.AddProtocol("kernel", "kernel1",
			"    scan time 60;\n    ipv4 {\n        import all;\n        export all;\n    };\n    learn;\n"); err != nil {
			return err
		}
		rc.AddTable(DirectTable)
		if err := rc.AddProtocol("direct", "local_nets",
			fmt.Sprintf("    ipv4 {\n        table %s;\n        import all;\n    };\n    interface \"*\";\n", DirectTable)); err != nil {
			return err
		}
		if lo := rc.Loopback(); lo.IsValid() {
			n.AppendStartCommand(fmt.Sprintf("ip addr add %s/32 dev lo", lo), false)
		}
	}
	n.AppendStartCommand("mkdir -p /run/bird && bird -d", true)
	return nil
}

// defaultGateway picks the first router that shares a network with host.
func defaultGateway(host *model.Node) (netip.Addr, string, bool) {
	for _, iface := range host.Interfaces() {
		for _, peer := range iface.Network().AssociatedNodes() {
			if peer.Role() != model.RoleRouter {
				continue
			}
			if gw := peer.InterfaceOn(iface.Network()); gw != nil {
				return gw.Address(), iface.Name(), true
			}
		}
	}
	return netip.Addr{}, "", false
}

// nodesOfKind returns the nodes of one kind across all scopes in registry
// order.
func nodesOfKind(reg *kb.Registry, kind string) ([]*model.Node, error) {
	keys := reg.KeysByKind(kind)
	out := make([]*model.Node, 0, len(keys))
	for _, key := range keys {
		n, err := kb.GetAs[*model.Node](reg, key.Scope, key.Kind, key.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// routersOf returns the routers of one AS in registry order.
func routersOf(reg *kb.Registry, asn int) []*model.Node {
	return kb.ListAs[*model.Node](reg, fmt.Sprint(asn), kb.KindRouter)
}
