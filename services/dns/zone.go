// Package dns provides the domain name service: a tree of zones, name
// servers that host them and the merger for zone trees.
package dns

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"github.com/signalsfoundry/inetemu/core"
)

// TTL is the time to live of every record the service writes.
const TTL = 300

// ErrBadRecord is returned for a record that does not parse as exactly one
// resource record.
var ErrBadRecord = fmt.Errorf("%w: bad resource record", core.ErrConfiguration)

// Zone is one node of the zone tree. Owner names are stored fully qualified.
type Zone struct {
	name string

	records  []dns.RR
	glue     []dns.RR
	pending  map[string]string
	pendOrd  []string
	subzones map[string]*Zone
	subOrder []string

	nsCount int
}

// NewZone returns an empty zone. name is made fully qualified.
func NewZone(name string) *Zone {
	return &Zone{
		name:     fqdn(name),
		pending:  make(map[string]string),
		subzones: make(map[string]*Zone),
	}
}

func fqdn(name string) string {
	return dns.CanonicalName(strings.TrimSpace(name))
}

// Name returns the fully qualified zone name; the root is ".".
func (z *Zone) Name() string { return z.name }

// IsRoot reports whether z is the root zone.
func (z *Zone) IsRoot() bool { return z.name == "." }

// absolute qualifies a name written relative to the zone origin. "@" is the
// apex and names ending in a dot are left alone.
func (z *Zone) absolute(name string) string {
	switch {
	case name == "@" || name == "":
		return z.name
	case dns.IsFqdn(name):
		return dns.CanonicalName(name)
	case z.IsRoot():
		return dns.CanonicalName(name)
	default:
		return dns.CanonicalName(name + "." + z.name)
	}
}

// SubZone returns the child zone for label, creating it on first use.
func (z *Zone) SubZone(label string) *Zone {
	label = strings.ToLower(label)
	if sub, ok := z.subzones[label]; ok {
		return sub
	}
	sub := NewZone(z.absolute(label))
	z.subzones[label] = sub
	z.subOrder = append(z.subOrder, label)
	return sub
}

// HasSubZone reports whether a child zone exists for label.
func (z *Zone) HasSubZone(label string) bool {
	_, ok := z.subzones[strings.ToLower(label)]
	return ok
}

// SubZones returns the child zones in creation order.
func (z *Zone) SubZones() []*Zone {
	out := make([]*Zone, 0, len(z.subOrder))
	for _, label := range z.subOrder {
		out = append(out, z.subzones[label])
	}
	return out
}

// AddRecord parses rr as a zone-file line relative to the zone origin, e.g.
// "www A 10.150.0.71", and adds it. Records without a TTL get TTL. Adding a
// duplicate record is a no-op.
func (z *Zone) AddRecord(rr string) error {
	zp := dns.NewZoneParser(strings.NewReader(fmt.Sprintf("$TTL %d\n%s\n", TTL, strings.TrimSpace(rr))), z.name, "")
	parsed, ok := zp.Next()
	if !ok {
		if err := zp.Err(); err != nil {
			return fmt.Errorf("%w: %q in %s: %v", ErrBadRecord, rr, z.name, err)
		}
		return fmt.Errorf("%w: %q in %s: empty", ErrBadRecord, rr, z.name)
	}
	if _, more := zp.Next(); more {
		return fmt.Errorf("%w: %q in %s: more than one record", ErrBadRecord, rr, z.name)
	}
	z.AddRR(parsed)
	return nil
}

// AddRR adds a parsed record. The owner name is canonicalised.
func (z *Zone) AddRR(rr dns.RR) *Zone {
	rr = dns.Copy(rr)
	rr.Header().Name = dns.CanonicalName(rr.Header().Name)
	z.records = appendRR(z.records, rr)
	return z
}

// Records returns the resource records in insertion order.
func (z *Zone) Records() []dns.RR { return copyRRs(z.records) }

// AddGlueRecord adds the NS and A records that delegate child to the name
// server ns at addr.
func (z *Zone) AddGlueRecord(child, ns string, addr netip.Addr) *Zone {
	z.glue = appendRR(z.glue, newNS(fqdn(child), fqdn(ns)))
	z.glue = appendRR(z.glue, newA(fqdn(ns), addr))
	return z
}

// GlueRecords returns the glue records in insertion order.
func (z *Zone) GlueRecords() []dns.RR { return copyRRs(z.glue) }

// ResolveToVnode asks for an A record for label pointing at whatever node
// vnode is bound to. The record is filled in when the service renders.
func (z *Zone) ResolveToVnode(label, vnode string) *Zone {
	if _, ok := z.pending[label]; !ok {
		z.pendOrd = append(z.pendOrd, label)
	}
	z.pending[label] = vnode
	return z
}

// PendingRecords returns the unresolved labels and their virtual nodes.
func (z *Zone) PendingRecords() map[string]string {
	out := make(map[string]string, len(z.pending))
	for k, v := range z.pending {
		out[k] = v
	}
	return out
}

// SOA returns the start of authority record written at the top of the
// zone file.
func (z *Zone) SOA() *dns.SOA {
	return &dns.SOA{
		Hdr:     header(z.name, dns.TypeSOA),
		Ns:      z.absolute("ns1"),
		Mbox:    z.absolute("admin"),
		Serial:  1,
		Refresh: 900,
		Retry:   900,
		Expire:  1800,
		Minttl:  60,
	}
}

// ZoneFile renders the zone in BIND master file format.
func (z *Zone) ZoneFile() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$TTL %d\n$ORIGIN %s\n", TTL, z.name)
	b.WriteString(z.SOA().String())
	b.WriteByte('\n')
	for _, rr := range z.records {
		b.WriteString(rr.String())
		b.WriteByte('\n')
	}
	for _, rr := range z.glue {
		b.WriteString(rr.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Walk calls fn for z and every zone below it, parents first.
func (z *Zone) Walk(fn func(*Zone) error) error {
	if err := fn(z); err != nil {
		return err
	}
	for _, sub := range z.SubZones() {
		if err := sub.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// owner returns the first label of name when name is a direct child of z,
// or "" for the apex and for deeper or foreign names.
func (z *Zone) owner(name string) string {
	name = dns.CanonicalName(name)
	if name == z.name || !dns.IsSubDomain(z.name, name) {
		return ""
	}
	labels := dns.SplitDomainName(name)
	if len(labels) != dns.CountLabel(z.name)+1 {
		return ""
	}
	return labels[0]
}

// recordLabels returns the labels that own records or pending records in z.
func (z *Zone) recordLabels() map[string]struct{} {
	out := make(map[string]struct{})
	for _, rr := range z.records {
		if label := z.owner(rr.Header().Name); label != "" {
			out[label] = struct{}{}
		}
	}
	for label := range z.pending {
		if owner := z.owner(z.absolute(label)); owner != "" {
			out[owner] = struct{}{}
		}
	}
	return out
}

func header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: TTL}
}

func newNS(owner, ns string) *dns.NS {
	return &dns.NS{Hdr: header(owner, dns.TypeNS), Ns: ns}
}

func newA(owner string, addr netip.Addr) *dns.A {
	return &dns.A{Hdr: header(owner, dns.TypeA), A: net.IP(addr.AsSlice())}
}

func appendRR(list []dns.RR, rr dns.RR) []dns.RR {
	for _, existing := range list {
		if dns.IsDuplicate(existing, rr) {
			return list
		}
	}
	return append(list, rr)
}

func copyRRs(rrs []dns.RR) []dns.RR {
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		out = append(out, dns.Copy(rr))
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
