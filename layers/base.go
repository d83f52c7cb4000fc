// Package layers contains the topology and routing layers of a build.
package layers

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Layer names.
const (
	BaseName    = "Base"
	RoutingName = "Routing"
	EbgpName    = "Ebgp"
	IbgpName    = "Ibgp"
	OspfName    = "Ospf"
	MplsName    = "Mpls"
)

// ScopeCrossConnect holds the point-to-point networks created for cross
// connects.
const ScopeCrossConnect = "xc"

var (
	ErrASExists          = fmt.Errorf("%w: autonomous system already exists", core.ErrConfiguration)
	ErrASNotFound        = fmt.Errorf("%w: autonomous system not found", core.ErrConfiguration)
	ErrIXExists          = fmt.Errorf("%w: internet exchange already exists", core.ErrConfiguration)
	ErrIXNotFound        = fmt.Errorf("%w: internet exchange not found", core.ErrConfiguration)
	ErrBadCrossConnect   = fmt.Errorf("%w: invalid cross connect", core.ErrConfiguration)
	ErrPeeringExists     = fmt.Errorf("%w: peering already exists", core.ErrConfiguration)
	ErrNoAttachment      = fmt.Errorf("%w: peer has no router on the exchange", core.ErrConfiguration)
	ErrUnknownRelation   = fmt.Errorf("%w: unknown peering relationship", core.ErrConfiguration)
	ErrLoopbackExhausted = fmt.Errorf("%w: loopback pool exhausted", core.ErrConfiguration)
)

// Base holds the autonomous systems and internet exchanges of a build and
// puts them in the registry.
type Base struct {
	core.LayerBase

	ases    map[int]*model.AutonomousSystem
	asOrder []int
	ixes    map[int]*model.InternetExchange
	ixOrder []int
}

// NewBase returns an empty base layer.
func NewBase() *Base {
	return &Base{
		LayerBase: core.NewLayerBase(BaseName),
		ases:      make(map[int]*model.AutonomousSystem),
		ixes:      make(map[int]*model.InternetExchange),
	}
}

// CreateAutonomousSystem adds a new AS.
func (b *Base) CreateAutonomousSystem(asn int) (*model.AutonomousSystem, error) {
	if _, exists := b.ases[asn]; exists {
		return nil, fmt.Errorf("%w: AS%d", ErrASExists, asn)
	}
	as := model.NewAutonomousSystem(asn)
	b.ases[asn] = as
	b.asOrder = append(b.asOrder, asn)
	return as, nil
}

// AutonomousSystem returns the AS with number asn.
func (b *Base) AutonomousSystem(asn int) (*model.AutonomousSystem, error) {
	as, ok := b.ases[asn]
	if !ok {
		return nil, fmt.Errorf("%w: AS%d", ErrASNotFound, asn)
	}
	return as, nil
}

// ASNs returns the AS numbers in creation order.
func (b *Base) ASNs() []int { return append([]int(nil), b.asOrder...) }

// AutonomousSystems returns the ASes in creation order.
func (b *Base) AutonomousSystems() []*model.AutonomousSystem {
	out := make([]*model.AutonomousSystem, 0, len(b.asOrder))
	for _, asn := range b.asOrder {
		out = append(out, b.ases[asn])
	}
	return out
}

// CreateInternetExchange adds a new exchange. prefix is model.AutoAddress or a
// CIDR.
func (b *Base) CreateInternetExchange(id int, prefix string) (*model.InternetExchange, error) {
	if _, exists := b.ixes[id]; exists {
		return nil, fmt.Errorf("%w: IX%d", ErrIXExists, id)
	}
	ix, err := model.NewInternetExchange(id, prefix)
	if err != nil {
		return nil, err
	}
	b.ixes[id] = ix
	b.ixOrder = append(b.ixOrder, id)
	return ix, nil
}

// InternetExchange returns the exchange with the given id.
func (b *Base) InternetExchange(id int) (*model.InternetExchange, error) {
	ix, ok := b.ixes[id]
	if !ok {
		return nil, fmt.Errorf("%w: IX%d", ErrIXNotFound, id)
	}
	return ix, nil
}

// IXIDs returns the exchange ids in creation order.
func (b *Base) IXIDs() []int { return append([]int(nil), b.ixOrder...) }

// InternetExchanges returns the exchanges in creation order.
func (b *Base) InternetExchanges() []*model.InternetExchange {
	out := make([]*model.InternetExchange, 0, len(b.ixOrder))
	for _, id := range b.ixOrder {
		out = append(out, b.ixes[id])
	}
	return out
}

// Configure registers every exchange and AS, wires cross connects, then
// attaches all nodes to their networks.
func (b *Base) Configure(emu *core.Emulator) error {
	reg := emu.Registry()
	for _, ix := range b.InternetExchanges() {
		if err := ix.Register(reg); err != nil {
			return err
		}
	}
	for _, as := range b.AutonomousSystems() {
		if err := as.Register(reg); err != nil {
			return err
		}
	}
	if err := b.configureCrossConnects(reg); err != nil {
		return err
	}
	for _, ix := range b.InternetExchanges() {
		if err := ix.Configure(reg); err != nil {
			return err
		}
	}
	for _, as := range b.AutonomousSystems() {
		if err := as.Configure(reg); err != nil {
			return err
		}
	}
	emu.Logger().Info(context.Background(), "base configured",
		logging.Int("ases", len(b.asOrder)),
		logging.Int("exchanges", len(b.ixOrder)),
	)
	return nil
}

// CrossConnectName is the name of the point-to-point network between two
// routers. It is the same from either side.
func CrossConnectName(asnA int, nameA string, asnB int, nameB string) string {
	ends := []string{fmt.Sprintf("%d_%s", asnA, nameA), fmt.Sprintf("%d_%s", asnB, nameB)}
	sort.Strings(ends)
	return "xc_" + ends[0] + "_" + ends[1]
}

func (b *Base) configureCrossConnects(reg *kb.Registry) error {
	for _, as := range b.AutonomousSystems() {
		for _, router := range as.Routers() {
			for _, xc := range router.CrossConnects() {
				peerAS, err := b.AutonomousSystem(xc.PeerASN)
				if err != nil {
					return fmt.Errorf("%w: %s to AS%d: %v", ErrBadCrossConnect, router.Key(), xc.PeerASN, err)
				}
				peer, err := peerAS.Router(xc.PeerName)
				if err != nil {
					return fmt.Errorf("%w: %s to AS%d/%s: %v", ErrBadCrossConnect, router.Key(), xc.PeerASN, xc.PeerName, err)
				}
				if !hasCrossConnectTo(peer, as.ASN(), router.Name()) {
					return fmt.Errorf("%w: %s to %s is not declared on both ends", ErrBadCrossConnect, router.Key(), peer.Key())
				}

				name := CrossConnectName(as.ASN(), router.Name(), xc.PeerASN, xc.PeerName)
				network, err := kb.GetAs[*model.Network](reg, ScopeCrossConnect, kb.KindNetwork, name)
				if errors.Is(err, kb.ErrEntityNotFound) {
					network = model.NewNetwork(name, ScopeCrossConnect, model.NetworkCrossConnect, xc.Address.Masked(), nil)
					if _, err := reg.Register(ScopeCrossConnect, kb.KindNetwork, name, network); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
				if network.Prefix() != xc.Address.Masked() {
					return fmt.Errorf("%w: %s uses %s on %s (%s)", ErrBadCrossConnect, router.Key(), xc.Address, name, network.Prefix())
				}
				router.AttachInterface(network, xc.Address.Addr())
			}
		}
	}
	return nil
}

func hasCrossConnectTo(n *model.Node, asn int, name string) bool {
	for _, xc := range n.CrossConnects() {
		if xc.PeerASN == asn && xc.PeerName == name {
			return true
		}
	}
	return false
}

// Render does nothing; addressing is complete after configure.
func (b *Base) Render(*core.Emulator) error { return nil }

// CrossConnectPeer returns the address of the router at the other end of the
// cross connect from node to (asn, name).
func CrossConnectPeer(reg *kb.Registry, node *model.Node, asn int, name string) (local, peer netip.Addr, err error) {
	netName := CrossConnectName(node.ASN(), node.Name(), asn, name)
	network, err := kb.GetAs[*model.Network](reg, ScopeCrossConnect, kb.KindNetwork, netName)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	for _, other := range network.AssociatedNodes() {
		iface := other.InterfaceOn(network)
		if iface == nil {
			continue
		}
		if other == node {
			local = iface.Address()
		} else {
			peer = iface.Address()
		}
	}
	if !local.IsValid() || !peer.IsValid() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %s", ErrBadCrossConnect, netName)
	}
	return local, peer, nil
}
