package dns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path"
	"strings"

	"github.com/miekg/dns"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
)

// ServiceName is the layer name of the domain name service.
const ServiceName = "DomainNameService"

// Paths written on every name server.
const (
	ZoneDir       = "/etc/bind/zones"
	NamedZoneConf = "/etc/bind/named.conf.zones"
	NamedOptions  = "/etc/bind/named.conf.options"
)

var (
	// ErrNoAddress is returned when a name server or a pending record target
	// has no interface address.
	ErrNoAddress = fmt.Errorf("%w: node has no address", core.ErrConfiguration)
	// ErrZoneConflict is returned when merged trees disagree on a label.
	ErrZoneConflict = fmt.Errorf("%w: zone tree", core.ErrMergeConflict)
)

// Server is a name server hosting zones by name.
type Server struct {
	vnode string
	zones []string
}

// VNode returns the virtual node the server was installed on.
func (s *Server) VNode() string { return s.vnode }

// AddZone hosts the zone called name on this server.
func (s *Server) AddZone(name string) *Server {
	s.zones = appendUnique(s.zones, fqdn(name))
	return s
}

// Zones returns the names of the hosted zones.
func (s *Server) Zones() []string { return append([]string(nil), s.zones...) }

// Service is the domain name service layer.
type Service struct {
	*core.Service[*Server]
	root *Zone
}

// New returns an empty domain name service.
func New() *Service {
	d := &Service{root: NewZone(".")}
	d.Service = core.NewService[*Server](ServiceName, core.ServiceHooks[*Server]{
		NewServer:       func(vnode string) *Server { return &Server{vnode: vnode} },
		ConfigureServer: d.configureServer,
		InstallServer:   d.installServer,
	})
	d.AddDependency(layers.BaseName, false, false)
	return d
}

// Root returns the root zone.
func (d *Service) Root() *Zone { return d.root }

// GetZone returns the zone for domain, creating it and any missing parents.
func (d *Service) GetZone(domain string) *Zone {
	zone := d.root
	labels := dns.SplitDomainName(fqdn(domain))
	for i := len(labels) - 1; i >= 0; i-- {
		zone = zone.SubZone(labels[i])
	}
	return zone
}

// parent returns the zone above domain, or nil for the root.
func (d *Service) parent(domain string) *Zone {
	labels := dns.SplitDomainName(fqdn(domain))
	switch len(labels) {
	case 0:
		return nil
	case 1:
		return d.root
	default:
		return d.GetZone(dns.Fqdn(strings.Join(labels[1:], ".")))
	}
}

// configureServer publishes the server in every zone it hosts and adds glue
// to the parent zone, before any zone file is written.
func (d *Service) configureServer(emu *core.Emulator, srv *Server, node *model.Node) error {
	addr, err := nodeAddress(node)
	if err != nil {
		return err
	}
	for _, name := range srv.zones {
		zone := d.GetZone(name)
		zone.nsCount++
		ns := zone.absolute(fmt.Sprintf("ns%d", zone.nsCount))
		zone.AddRR(newNS(zone.Name(), ns))
		zone.AddRR(newA(ns, addr))
		if parent := d.parent(name); parent != nil {
			parent.AddGlueRecord(zone.Name(), ns, addr)
		}
		emu.Logger().Debug(context.Background(), "name server published",
			logging.String("zone", zone.Name()),
			logging.String("ns", ns),
			logging.String("node", node.Key().String()),
		)
	}
	return nil
}

// Render fills in pending records, then writes zone files to the servers.
func (d *Service) Render(emu *core.Emulator) error {
	err := d.root.Walk(func(z *Zone) error {
		for _, label := range z.pendOrd {
			vnode := z.pending[label]
			node, err := emu.Resolve(vnode)
			if err != nil {
				return fmt.Errorf("zone %s record %q: %w", z.Name(), label, err)
			}
			addr, err := nodeAddress(node)
			if err != nil {
				return fmt.Errorf("zone %s record %q: %w", z.Name(), label, err)
			}
			z.AddRR(newA(z.absolute(label), addr))
		}
		z.pending = make(map[string]string)
		z.pendOrd = nil
		return nil
	})
	if err != nil {
		return err
	}
	return d.Service.Render(emu)
}

func (d *Service) installServer(_ *core.Emulator, srv *Server, node *model.Node) error {
	node.AddSoftware("bind9")
	node.SetFile(NamedOptions, "options {\n    directory \"/var/cache/bind\";\n    recursion no;\n    dnssec-validation no;\n    empty-zones-enable no;\n    allow-query { any; };\n};\n")

	var conf strings.Builder
	for _, name := range srv.zones {
		zone := d.GetZone(name)
		file := path.Join(ZoneDir, zoneFileName(zone))
		node.SetFile(file, zone.ZoneFile())
		fmt.Fprintf(&conf, "zone \"%s\" { type master; file \"%s\"; allow-update { any; }; };\n", zone.Name(), file)
	}
	node.SetFile(NamedZoneConf, conf.String())
	node.AppendStartCommand("echo 'include \""+NamedZoneConf+"\";' >> /etc/bind/named.conf", false)
	node.AppendStartCommand("service named start", false)
	return nil
}

func zoneFileName(z *Zone) string {
	if z.IsRoot() {
		return "root"
	}
	return strings.TrimSuffix(z.Name(), ".")
}

func nodeAddress(node *model.Node) (netip.Addr, error) {
	ifaces := node.Interfaces()
	if len(ifaces) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoAddress, node.Key())
	}
	return ifaces[0].Address(), nil
}

// Merger merges two domain name services. Installs are unioned and zone
// trees are merged label by label.
type Merger struct{}

func (Merger) Name() string     { return "DefaultDomainNameServiceMerger" }
func (Merger) TypeName() string { return ServiceName }

func (Merger) Merge(a, b core.Layer) (core.Layer, error) {
	da, ok := a.(*Service)
	if !ok {
		return nil, fmt.Errorf("%w: %T", core.ErrLayerType, a)
	}
	db, ok := b.(*Service)
	if !ok {
		return nil, fmt.Errorf("%w: %T", core.ErrLayerType, b)
	}

	out := New()
	root, err := MergeZones(da.root, db.root)
	if err != nil {
		return nil, err
	}
	out.root = root
	if err := core.AdoptAll(out.Service, da.Service, db.Service); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeZones merges two trees rooted at the same zone. Records and glue are
// unioned. A label with pending records pointing at different virtual nodes,
// or a label that owns records on one side and a subzone on the other, is a
// conflict.
func MergeZones(a, b *Zone) (*Zone, error) {
	if a.name != b.name {
		return nil, fmt.Errorf("%w: cannot merge %s with %s", ErrZoneConflict, a.name, b.name)
	}
	if err := checkRecordSubzone(a, b, "first", "second"); err != nil {
		return nil, err
	}
	if err := checkRecordSubzone(b, a, "second", "first"); err != nil {
		return nil, err
	}

	out := NewZone(a.name)
	for _, rr := range append(a.Records(), b.Records()...) {
		out.AddRR(rr)
	}
	for _, rr := range append(a.GlueRecords(), b.GlueRecords()...) {
		out.glue = appendRR(out.glue, rr)
	}
	out.nsCount = max(a.nsCount, b.nsCount)

	var onPending core.ConflictFunc[string, string] = func(label, x, y string) (string, error) {
		return "", fmt.Errorf("%w: %s in %s resolves to %q and %q", ErrZoneConflict, label, a.name, x, y)
	}
	pending, err := core.MergeMaps(a.pending, b.pending, func(x, y string) bool { return x == y }, onPending)
	if err != nil {
		return nil, err
	}
	out.pending = pending
	out.pendOrd = core.UnionKeys(a.pendOrd, b.pendOrd)

	for _, label := range core.UnionKeys(a.subOrder, b.subOrder) {
		sa, inA := a.subzones[label]
		sb, inB := b.subzones[label]
		var merged *Zone
		switch {
		case inA && inB:
			if merged, err = MergeZones(sa, sb); err != nil {
				return nil, err
			}
		case inA:
			merged = sa
		default:
			merged = sb
		}
		out.subzones[label] = merged
		out.subOrder = append(out.subOrder, label)
	}
	return out, nil
}

func checkRecordSubzone(withRecords, withSubzones *Zone, recSide, subSide string) error {
	for label := range withRecords.recordLabels() {
		if withSubzones.HasSubZone(label) {
			return fmt.Errorf("%w: %s is a record in the %s input and a subzone in the %s input",
				ErrZoneConflict, withRecords.absolute(label), recSide, subSide)
		}
	}
	return nil
}

// IsZoneConflict reports whether err came from an inconsistent zone tree merge.
func IsZoneConflict(err error) bool { return errors.Is(err, ErrZoneConflict) }
