package model

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// BirdConfigPath is where the routing daemon configuration is assembled.
const BirdConfigPath = "/etc/bird/bird.conf"

// MasterTable is the daemon's main routing table.
const MasterTable = "master4"

// RoutePolicy is a route filter attached to a session direction: everything,
// nothing, or routes inside a prefix set.
type RoutePolicy struct {
	all bool
	set *netipx.IPSet
}

// ExportAll permits every route.
func ExportAll() RoutePolicy { return RoutePolicy{all: true} }

// ExportNone permits nothing.
func ExportNone() RoutePolicy { return RoutePolicy{} }

// ExportPrefixes permits routes inside any of prefixes. With no prefixes the
// policy is ExportNone, never an empty permit-all filter.
func ExportPrefixes(prefixes ...netip.Prefix) RoutePolicy {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(p.Masked())
	}
	set, err := b.IPSet()
	if err != nil || len(set.Prefixes()) == 0 {
		return ExportNone()
	}
	return RoutePolicy{set: set}
}

func (p RoutePolicy) IsAll() bool  { return p.all }
func (p RoutePolicy) IsNone() bool { return !p.all && (p.set == nil || len(p.set.Prefixes()) == 0) }

// Prefixes returns the normalised prefix set; nil for all/none.
func (p RoutePolicy) Prefixes() []netip.Prefix {
	if p.all || p.set == nil {
		return nil
	}
	return p.set.Prefixes()
}

// Permits reports whether a route for prefix passes the policy.
func (p RoutePolicy) Permits(prefix netip.Prefix) bool {
	if p.all {
		return true
	}
	if p.set == nil {
		return false
	}
	return p.set.ContainsPrefix(prefix)
}

// Equal compares two policies by meaning.
func (p RoutePolicy) Equal(o RoutePolicy) bool {
	if p.all || o.all {
		return p.all == o.all
	}
	if p.IsNone() || o.IsNone() {
		return p.IsNone() == o.IsNone()
	}
	return p.set.Equal(o.set)
}

// Bird renders the policy as a BIRD filter expression.
func (p RoutePolicy) Bird() string {
	switch {
	case p.all:
		return "all"
	case p.IsNone():
		return "none"
	}
	parts := make([]string, 0, len(p.set.Prefixes()))
	for _, pfx := range p.set.Prefixes() {
		parts = append(parts, pfx.String()+"+")
	}
	return "where net ~ [ " + strings.Join(parts, ", ") + " ]"
}

func (p RoutePolicy) String() string { return p.Bird() }

// Pipe connects two routing tables.
type Pipe struct {
	Src string
	Dst string
}

// Protocol is one routing protocol stanza.
type Protocol struct {
	Kind string
	Name string
	Body string
}

// BGPSession is one BGP neighbour configuration.
type BGPSession struct {
	Name              string
	LocalAddr         netip.Addr
	PeerAddr          netip.Addr
	LocalASN          int
	PeerASN           int
	Table             string
	Import            RoutePolicy
	Export            RoutePolicy
	RouteServerClient bool
	NextHopSelf       bool
	IGPTable          string
}

func (s BGPSession) body() string {
	var b strings.Builder
	table := s.Table
	if table == "" {
		table = "t_bgp"
	}
	b.WriteString("    ipv4 {\n")
	fmt.Fprintf(&b, "        table %s;\n", table)
	if s.IGPTable != "" {
		fmt.Fprintf(&b, "        igp table %s;\n", s.IGPTable)
	}
	fmt.Fprintf(&b, "        import %s;\n", s.Import.Bird())
	fmt.Fprintf(&b, "        export %s;\n", s.Export.Bird())
	if s.NextHopSelf {
		b.WriteString("        next hop self;\n")
	}
	b.WriteString("    };\n")
	fmt.Fprintf(&b, "    local %s as %d;\n", s.LocalAddr, s.LocalASN)
	fmt.Fprintf(&b, "    neighbor %s as %d;\n", s.PeerAddr, s.PeerASN)
	if s.RouteServerClient {
		b.WriteString("    rs client;\n")
	}
	return b.String()
}

// RouterConfig accumulates the routing state layers attach to a router. Each
// addition is also appended to BirdConfigPath on the node.
type RouterConfig struct {
	node     *Node
	loopback netip.Addr

	tables    []string
	pipes     []Pipe
	protocols []Protocol
	sessions  []BGPSession
}

func newRouterConfig(n *Node) *RouterConfig {
	return &RouterConfig{node: n}
}

// SetLoopback sets the loopback address, which also serves as router id.
func (r *RouterConfig) SetLoopback(addr netip.Addr) { r.loopback = addr }

func (r *RouterConfig) Loopback() netip.Addr { return r.loopback }

// RouterID is the loopback if set, otherwise the first interface address.
func (r *RouterConfig) RouterID() netip.Addr {
	if r.loopback.IsValid() {
		return r.loopback
	}
	for _, iface := range r.node.interfaces {
		return iface.Address()
	}
	return netip.Addr{}
}

// HasTable reports whether the table was declared.
func (r *RouterConfig) HasTable(name string) bool {
	if name == MasterTable {
		return true
	}
	for _, t := range r.tables {
		if t == name {
			return true
		}
	}
	return false
}

// AddTable declares a routing table. Declaring it again is a no-op.
func (r *RouterConfig) AddTable(name string) {
	if r.HasTable(name) {
		return
	}
	r.tables = append(r.tables, name)
	r.node.AppendFile(BirdConfigPath, fmt.Sprintf("ipv4 table %s;\n", name))
}

func (r *RouterConfig) Tables() []string { return append([]string(nil), r.tables...) }

// AddTablePipe exports every route of src into dst. An empty dst means the
// master table. Adding the same pipe twice is a no-op.
func (r *RouterConfig) AddTablePipe(src, dst string) {
	if dst == "" {
		dst = MasterTable
	}
	for _, p := range r.pipes {
		if p.Src == src && p.Dst == dst {
			return
		}
	}
	r.AddTable(src)
	r.AddTable(dst)
	r.pipes = append(r.pipes, Pipe{Src: src, Dst: dst})
	r.node.AppendFile(BirdConfigPath, fmt.Sprintf(
		"protocol pipe pipe_%s_%s {\n    table %s;\n    peer table %s;\n    import none;\n    export all;\n}\n",
		src, dst, src, dst))
}

// HasPipe reports whether src is piped into dst.
func (r *RouterConfig) HasPipe(src, dst string) bool {
	for _, p := range r.pipes {
		if p.Src == src && p.Dst == dst {
			return true
		}
	}
	return false
}

func (r *RouterConfig) Pipes() []Pipe { return append([]Pipe(nil), r.pipes...) }

// AddProtocol appends a protocol stanza. Names are unique per router.
func (r *RouterConfig) AddProtocol(kind, name, body string) error {
	if _, ok := r.Protocol(name); ok {
		return fmt.Errorf("%w: %s on %s", ErrProtocolExists, name, r.node.Key())
	}
	r.protocols = append(r.protocols, Protocol{Kind: kind, Name: name, Body: body})
	r.node.AppendFile(BirdConfigPath, fmt.Sprintf("protocol %s %s {\n%s}\n", kind, name, body))
	return nil
}

// Protocol returns the stanza with the given name.
func (r *RouterConfig) Protocol(name string) (Protocol, bool) {
	for _, p := range r.protocols {
		if p.Name == name {
			return p, true
		}
	}
	return Protocol{}, false
}

func (r *RouterConfig) Protocols() []Protocol { return append([]Protocol(nil), r.protocols...) }

// AddBGPSession records s and appends its BGP stanza.
func (r *RouterConfig) AddBGPSession(s BGPSession) error {
	if err := r.AddProtocol("bgp", s.Name, s.body()); err != nil {
		return err
	}
	r.sessions = append(r.sessions, s)
	return nil
}

// BGPSessions returns the sessions in creation order.
func (r *RouterConfig) BGPSessions() []BGPSession {
	return append([]BGPSession(nil), r.sessions...)
}

// BGPSession returns the session named name.
func (r *RouterConfig) BGPSession(name string) (BGPSession, bool) {
	for _, s := range r.sessions {
		if s.Name == name {
			return s, true
		}
	}
	return BGPSession{}, false
}
