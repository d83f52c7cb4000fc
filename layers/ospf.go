package layers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// NetworkKey names a network of an AS.
type NetworkKey struct {
	ASN  int
	Name string
}

// Ospf runs OSPF area 0 inside every AS over its local networks.
type Ospf struct {
	core.LayerBase

	stubs       map[NetworkKey]struct{}
	stubOrder   []NetworkKey
	maskedNets  map[NetworkKey]struct{}
	netOrder    []NetworkKey
	maskedASNs  map[int]struct{}
	maskedOrder []int
}

// NewOspf returns the OSPF layer.
func NewOspf() *Ospf {
	o := &Ospf{
		LayerBase:  core.NewLayerBase(OspfName),
		stubs:      make(map[NetworkKey]struct{}),
		maskedNets: make(map[NetworkKey]struct{}),
		maskedASNs: make(map[int]struct{}),
	}
	o.AddDependency(RoutingName, false, false)
	return o
}

// MarkAsStub advertises the network without running OSPF on it.
func (o *Ospf) MarkAsStub(asn int, network string) *Ospf {
	o.stubOrder = addKey(o.stubs, o.stubOrder, NetworkKey{ASN: asn, Name: network})
	return o
}

// MaskNetwork keeps the network out of OSPF entirely.
func (o *Ospf) MaskNetwork(asn int, network string) *Ospf {
	o.netOrder = addKey(o.maskedNets, o.netOrder, NetworkKey{ASN: asn, Name: network})
	return o
}

// MaskAsn skips every router of asn.
func (o *Ospf) MaskAsn(asn int) *Ospf {
	if _, ok := o.maskedASNs[asn]; !ok {
		o.maskedASNs[asn] = struct{}{}
		o.maskedOrder = append(o.maskedOrder, asn)
	}
	return o
}

func (o *Ospf) maskAsn(asn int) { o.MaskAsn(asn) }

// MaskedAsns returns the masked AS numbers in the order they were masked.
func (o *Ospf) MaskedAsns() []int { return append([]int(nil), o.maskedOrder...) }

// IsStub reports whether the network was marked as stub.
func (o *Ospf) IsStub(asn int, network string) bool {
	_, ok := o.stubs[NetworkKey{ASN: asn, Name: network}]
	return ok
}

// IsMasked reports whether the network or its AS is masked.
func (o *Ospf) IsMasked(asn int, network string) bool {
	if _, ok := o.maskedASNs[asn]; ok {
		return true
	}
	_, ok := o.maskedNets[NetworkKey{ASN: asn, Name: network}]
	return ok
}

// Stubs returns the stub networks in the order they were marked.
func (o *Ospf) Stubs() []NetworkKey { return append([]NetworkKey(nil), o.stubOrder...) }

// MaskedNetworks returns the masked networks in the order they were masked.
func (o *Ospf) MaskedNetworks() []NetworkKey { return append([]NetworkKey(nil), o.netOrder...) }

// Render adds an OSPF instance on every router of every unmasked AS.
func (o *Ospf) Render(emu *core.Emulator) error {
	routers, err := nodesOfKind(emu.Registry(), kb.KindRouter)
	if err != nil {
		return err
	}
	for _, router := range routers {
		if _, masked := o.maskedASNs[router.ASN()]; masked {
			continue
		}
		if err := o.renderRouter(router); err != nil {
			return err
		}
	}
	return nil
}

func (o *Ospf) renderRouter(router *model.Node) error {
	rc, err := router.Routing()
	if err != nil {
		return err
	}

	var ifaces strings.Builder
	ifaces.WriteString("        interface \"lo\" { stub; };\n")
	for _, iface := range router.Interfaces() {
		network := iface.Network()
		if network.Type() != model.NetworkLocal || network.Scope() != strconv.Itoa(router.ASN()) {
			continue
		}
		if o.IsMasked(router.ASN(), network.Name()) {
			continue
		}
		if o.IsStub(router.ASN(), network.Name()) || routerCount(network) < 2 {
			fmt.Fprintf(&ifaces, "        interface %q { stub; };\n", network.Name())
			continue
		}
		fmt.Fprintf(&ifaces, "        interface %q { hello 1; dead count 2; };\n", network.Name())
	}

	rc.AddTable(OSPFTable)
	rc.AddTablePipe(OSPFTable, "")
	body := fmt.Sprintf("    ipv4 {\n        table %s;\n        import all;\n        export all;\n    };\n    area 0 {\n%s    };\n",
		OSPFTable, ifaces.String())
	return rc.AddProtocol("ospf", "ospf1", body)
}

func routerCount(n *model.Network) int {
	count := 0
	for _, node := range n.AssociatedNodes() {
		if node.Role() == model.RoleRouter {
			count++
		}
	}
	return count
}

// addKey inserts k into set, appending it to order the first time.
func addKey[K comparable](set map[K]struct{}, order []K, k K) []K {
	if _, ok := set[k]; ok {
		return order
	}
	set[k] = struct{}{}
	return append(order, k)
}
