package layers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/model"
)

// FRRConfigPath is where the MPLS layer writes the FRR configuration.
const FRRConfigPath = "/etc/frr/frr.conf"

const frrDaemons = "zebra=yes\nospfd=yes\nldpd=yes\n"

// asnMasker is implemented by layers that can leave an AS out.
type asnMasker interface {
	maskAsn(asn int)
}

// Mpls replaces OSPF and iBGP in the enabled ASes with an LDP core run by
// FRR. Only edge routers, those attached to an exchange or a cross connect,
// carry iBGP sessions.
type Mpls struct {
	core.LayerBase

	enabled map[int]struct{}
	order   []int
}

// NewMpls returns the MPLS layer. It runs before Ospf and Ibgp so that it
// can mask its ASes from them.
func NewMpls() *Mpls {
	m := &Mpls{LayerBase: core.NewLayerBase(MplsName), enabled: make(map[int]struct{})}
	m.AddDependency(RoutingName, false, false)
	m.AddDependency(OspfName, true, true)
	m.AddDependency(IbgpName, true, true)
	return m
}

// EnableOn turns MPLS on for asn.
func (m *Mpls) EnableOn(asn int) *Mpls {
	if _, ok := m.enabled[asn]; !ok {
		m.enabled[asn] = struct{}{}
		m.order = append(m.order, asn)
	}
	return m
}

// Enabled returns the ASes MPLS runs in.
func (m *Mpls) Enabled() []int { return append([]int(nil), m.order...) }

// Configure masks the enabled ASes from the Ospf and Ibgp layers.
func (m *Mpls) Configure(emu *core.Emulator) error {
	for _, name := range []string{OspfName, IbgpName} {
		l, err := emu.Layer(name)
		if err != nil {
			continue
		}
		mk, ok := l.(asnMasker)
		if !ok {
			return fmt.Errorf("%w: %s is %T", core.ErrLayerType, name, l)
		}
		for _, asn := range m.order {
			mk.maskAsn(asn)
		}
	}
	return nil
}

// Render writes the FRR configuration of every router in the enabled ASes
// and meshes their edge routers.
func (m *Mpls) Render(emu *core.Emulator) error {
	reg := emu.Registry()
	for _, asn := range m.order {
		routers := routersOf(reg, asn)
		var edges []*model.Node
		for _, r := range routers {
			rc, err := r.Routing()
			if err != nil {
				return err
			}
			r.AddSoftware("frr")
			r.SetFile("/etc/frr/daemons", frrDaemons)
			r.SetFile(FRRConfigPath, frrConfig(r, rc))
			r.AppendStartCommand("/usr/lib/frr/frrinit.sh start", false)
			if isEdge(r) {
				edges = append(edges, r)
			}
		}
		if err := meshLoopbacks(edges, "ibgp"); err != nil {
			return err
		}
	}
	return nil
}

func isEdge(r *model.Node) bool {
	for _, iface := range r.Interfaces() {
		switch iface.Network().Type() {
		case model.NetworkInternetExchange, model.NetworkCrossConnect:
			return true
		}
	}
	return false
}

func coreInterfaces(r *model.Node) []*model.Interface {
	var out []*model.Interface
	for _, iface := range r.Interfaces() {
		n := iface.Network()
		if n.Type() == model.NetworkLocal && n.Scope() == strconv.Itoa(r.ASN()) {
			out = append(out, iface)
		}
	}
	return out
}

func frrConfig(r *model.Node, rc *model.RouterConfig) string {
	id := rc.RouterID()
	ifaces := coreInterfaces(r)

	var b strings.Builder
	fmt.Fprintf(&b, "frr defaults traditional\nhostname %s\n!\n", r.Name())
	fmt.Fprintf(&b, "interface lo\n ip address %s/32\n ip ospf area 0\n!\n", id)
	for _, iface := range ifaces {
		fmt.Fprintf(&b, "interface %s\n ip ospf area 0\n!\n", iface.Name())
	}
	fmt.Fprintf(&b, "router ospf\n ospf router-id %s\n!\n", id)
	fmt.Fprintf(&b, "mpls ldp\n router-id %s\n address-family ipv4\n  discovery transport-address %s\n", id, id)
	for _, iface := range ifaces {
		fmt.Fprintf(&b, "  interface %s\n", iface.Name())
	}
	b.WriteString(" exit-address-family\n!\n")
	return b.String()
}
