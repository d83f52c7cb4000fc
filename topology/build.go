package topology

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
	"github.com/signalsfoundry/inetemu/services/dns"
	"github.com/signalsfoundry/inetemu/services/web"
)

// Build creates an emulator holding every layer the description needs.
// The description's seed is applied before opts, so an explicit
// core.WithRandSeed in opts takes precedence.
func (t *Topology) Build(opts ...core.Option) (*core.Emulator, error) {
	opts = append([]core.Option{core.WithRandSeed(t.Seed)}, opts...)
	emu := core.NewEmulator(opts...)

	base, err := t.buildBase()
	if err != nil {
		return nil, err
	}
	built := []core.Layer{base}

	if t.hasRouters() || t.Routing != nil {
		routing := layers.NewRouting()
		if t.Routing != nil && t.Routing.LoopbackPool != "" {
			pool, err := netip.ParsePrefix(t.Routing.LoopbackPool)
			if err != nil {
				return nil, fmt.Errorf("%w: loopback pool %q", ErrInvalid, t.Routing.LoopbackPool)
			}
			routing.SetLoopbackPool(pool)
		}
		built = append(built, routing)
	}
	if ebgp, err := t.buildEbgp(); err != nil {
		return nil, err
	} else if ebgp != nil {
		built = append(built, ebgp)
	}
	if t.Ospf != nil {
		ospf := layers.NewOspf()
		for _, asn := range t.Ospf.MaskASNs {
			ospf.MaskAsn(asn)
		}
		for _, ref := range t.Ospf.Stubs {
			ospf.MarkAsStub(ref.ASN, ref.Network)
		}
		for _, ref := range t.Ospf.Masked {
			ospf.MaskNetwork(ref.ASN, ref.Network)
		}
		built = append(built, ospf)
	}
	if t.Ibgp != nil {
		ibgp := layers.NewIbgp()
		for _, asn := range t.Ibgp.MaskASNs {
			ibgp.MaskAsn(asn)
		}
		built = append(built, ibgp)
	}
	if t.Mpls != nil && len(t.Mpls.EnableOn) > 0 {
		mpls := layers.NewMpls()
		for _, asn := range t.Mpls.EnableOn {
			mpls.EnableOn(asn)
		}
		built = append(built, mpls)
	}
	if t.DNS != nil {
		d, err := t.buildDNS()
		if err != nil {
			return nil, err
		}
		built = append(built, d)
	}
	if t.Web != nil {
		w, err := t.buildWeb()
		if err != nil {
			return nil, err
		}
		built = append(built, w)
	}

	for _, l := range built {
		if err := emu.AddLayer(l); err != nil {
			return nil, err
		}
	}
	for i, b := range t.Bindings {
		binding, err := b.compile()
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		emu.AddBinding(binding)
	}
	return emu, nil
}

func (t *Topology) hasRouters() bool {
	for _, as := range t.ASes {
		if len(as.Routers) > 0 {
			return true
		}
	}
	return len(t.Exchanges) > 0
}

func (t *Topology) buildBase() (*layers.Base, error) {
	base := layers.NewBase()
	for _, ix := range t.Exchanges {
		x, err := base.CreateInternetExchange(ix.ID, ix.Prefix)
		if err != nil {
			return nil, err
		}
		if ix.Link != nil {
			x.Network().SetDefaultLinkProperties(*ix.Link)
		}
	}
	for _, spec := range t.ASes {
		as, err := base.CreateAutonomousSystem(spec.ASN)
		if err != nil {
			return nil, err
		}
		for _, n := range spec.Networks {
			nw, err := as.CreateNetwork(n.Name, n.Prefix)
			if err != nil {
				return nil, err
			}
			if n.Link != nil {
				nw.SetDefaultLinkProperties(*n.Link)
			}
		}
		for _, r := range spec.Routers {
			node, err := as.CreateRouter(r.Name)
			if err != nil {
				return nil, err
			}
			if err := applyNode(node, r); err != nil {
				return nil, err
			}
		}
		for _, h := range spec.Hosts {
			node, err := as.CreateHost(h.Name)
			if err != nil {
				return nil, err
			}
			if err := applyNode(node, h); err != nil {
				return nil, err
			}
		}
	}
	return base, nil
}

func applyNode(node *model.Node, spec Node) error {
	for _, j := range spec.Networks {
		node.JoinNetwork(j.Network, j.Address)
	}
	for _, xc := range spec.CrossConnects {
		p, err := netip.ParsePrefix(xc.Address)
		if err != nil {
			return fmt.Errorf("%w: %s cross connect %q", ErrInvalid, node.Key(), xc.Address)
		}
		node.AddCrossConnect(xc.PeerASN, xc.Peer, p)
	}
	return nil
}

func (t *Topology) buildEbgp() (*layers.Ebgp, error) {
	p := t.Peerings
	if len(p.Private) == 0 && len(p.RouteServer) == 0 && len(p.CrossConnect) == 0 {
		return nil, nil
	}
	ebgp := layers.NewEbgp()
	for _, pp := range p.Private {
		rel, err := layers.ParseRelationship(pp.Relation)
		if err != nil {
			return nil, err
		}
		if err := ebgp.AddPrivatePeerings(pp.IX, pp.A, pp.B, rel); err != nil {
			return nil, err
		}
	}
	for _, rs := range p.RouteServer {
		for _, asn := range rs.ASNs {
			if err := ebgp.AddRsPeer(rs.IX, asn); err != nil {
				return nil, err
			}
		}
	}
	for _, xc := range p.CrossConnect {
		rel, err := layers.ParseRelationship(xc.Relation)
		if err != nil {
			return nil, err
		}
		if err := ebgp.AddCrossConnectPeering(xc.A, xc.B, rel); err != nil {
			return nil, err
		}
	}
	return ebgp, nil
}

func (t *Topology) buildDNS() (*dns.Service, error) {
	d := dns.New()
	for _, z := range t.DNS.Zones {
		zone := d.GetZone(z.Name)
		for _, rr := range z.Records {
			if err := zone.AddRecord(rr); err != nil {
				return nil, err
			}
		}
		for _, label := range slices.Sorted(maps.Keys(z.VNodeRecords)) {
			zone.ResolveToVnode(label, z.VNodeRecords[label])
		}
	}
	for _, s := range t.DNS.Servers {
		srv, err := place(d.Service, s.Placement)
		if err != nil {
			return nil, err
		}
		for _, name := range s.Zones {
			srv.AddZone(name)
		}
	}
	return d, nil
}

func (t *Topology) buildWeb() (*web.Service, error) {
	w := web.New()
	for _, s := range t.Web.Servers {
		srv, err := place(w.Service, s.Placement)
		if err != nil {
			return nil, err
		}
		if s.Port != 0 {
			srv.SetPort(s.Port)
		}
		if s.Index != "" {
			srv.SetIndexContent(s.Index)
		}
	}
	return w, nil
}

func place[S any](svc *core.Service[S], p Placement) (S, error) {
	switch {
	case p.VNode != "":
		return svc.Install(p.VNode), nil
	case p.Host != "":
		return svc.InstallByName(p.ASN, p.Host), nil
	default:
		addr, err := netip.ParseAddr(p.IP)
		if err != nil {
			var zero S
			return zero, fmt.Errorf("%w: server address %q", ErrInvalid, p.IP)
		}
		return svc.InstallByIP(addr, p.ASN), nil
	}
}

func (b Binding) compile() (*core.Binding, error) {
	action, err := core.ParseAction(b.Action)
	if err != nil {
		return nil, err
	}
	f := core.Filter{
		ASN:             b.Filter.ASN,
		NodeName:        b.Filter.NodeName,
		RequireServices: b.Filter.RequireServices,
		ForbidServices:  b.Filter.ForbidServices,
		AnyServices:     b.Filter.AnyServices,
	}
	if b.Filter.IP != "" {
		if f.IP, err = netip.ParseAddr(b.Filter.IP); err != nil {
			return nil, fmt.Errorf("%w: filter ip %q", core.ErrBadBinding, b.Filter.IP)
		}
	}
	if b.Filter.Prefix != "" {
		if f.Prefix, err = netip.ParsePrefix(b.Filter.Prefix); err != nil {
			return nil, fmt.Errorf("%w: filter prefix %q", core.ErrBadBinding, b.Filter.Prefix)
		}
	}
	return core.NewBinding(b.Source, action, f)
}
