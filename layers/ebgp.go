package layers

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Relationship is the business relation of a private peering.
type Relationship int

const (
	// Provider means the first AS sells transit to the second.
	Provider Relationship = iota + 1
	// Peer exchanges own and customer routes only.
	Peer
	// Unfiltered exports everything in both directions.
	Unfiltered
)

func (r Relationship) String() string {
	switch r {
	case Provider:
		return "provider"
	case Peer:
		return "peer"
	case Unfiltered:
		return "unfiltered"
	default:
		return "Relationship(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRelationship parses "provider", "peer" or "unfiltered".
func ParseRelationship(s string) (Relationship, error) {
	switch strings.ToLower(s) {
	case "provider":
		return Provider, nil
	case "peer":
		return Peer, nil
	case "unfiltered":
		return Unfiltered, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRelation, s)
	}
}

// PeeringKey identifies a private peering at an exchange. With Provider, A
// is the provider and B the customer.
type PeeringKey struct {
	IX int
	A  int
	B  int
}

func (k PeeringKey) String() string {
	return fmt.Sprintf("IX%d AS%d-AS%d", k.IX, k.A, k.B)
}

// RSPeerKey identifies an AS peering with the route server of an exchange.
type RSPeerKey struct {
	IX  int
	ASN int
}

// CrossConnectKey identifies a peering over a direct link between two ASes.
type CrossConnectKey struct {
	A int
	B int
}

// Ebgp turns peering declarations into BGP sessions with export filters
// derived from the relationships.
type Ebgp struct {
	core.LayerBase

	private      map[PeeringKey]Relationship
	privateOrder []PeeringKey
	rs           map[RSPeerKey]struct{}
	rsOrder      []RSPeerKey
	xc           map[CrossConnectKey]Relationship
	xcOrder      []CrossConnectKey
}

// NewEbgp returns an Ebgp layer without peerings.
func NewEbgp() *Ebgp {
	e := &Ebgp{
		LayerBase: core.NewLayerBase(EbgpName),
		private:   make(map[PeeringKey]Relationship),
		rs:        make(map[RSPeerKey]struct{}),
		xc:        make(map[CrossConnectKey]Relationship),
	}
	e.AddDependency(RoutingName, false, false)
	return e
}

// AddPrivatePeering declares a bilateral peering at exchange ix. A pair may
// be declared once per exchange, in either order.
func (e *Ebgp) AddPrivatePeering(ix, a, b int, rel Relationship) error {
	if a == b {
		return fmt.Errorf("%w: AS%d cannot peer with itself at IX%d", core.ErrConfiguration, a, ix)
	}
	if rel < Provider || rel > Unfiltered {
		return fmt.Errorf("%w: %v", ErrUnknownRelation, rel)
	}
	key := PeeringKey{IX: ix, A: a, B: b}
	if _, ok := e.private[key]; ok {
		return fmt.Errorf("%w: %s", ErrPeeringExists, key)
	}
	if _, ok := e.private[PeeringKey{IX: ix, A: b, B: a}]; ok {
		return fmt.Errorf("%w: %s", ErrPeeringExists, key)
	}
	e.private[key] = rel
	e.privateOrder = append(e.privateOrder, key)
	return nil
}

// AddPrivatePeerings declares a peering from every AS in as to every AS in bs.
func (e *Ebgp) AddPrivatePeerings(ix int, as, bs []int, rel Relationship) error {
	for _, a := range as {
		for _, b := range bs {
			if err := e.AddPrivatePeering(ix, a, b, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddRsPeer peers asn with the route server of ix.
func (e *Ebgp) AddRsPeer(ix, asn int) error {
	key := RSPeerKey{IX: ix, ASN: asn}
	if _, ok := e.rs[key]; ok {
		return fmt.Errorf("%w: AS%d at IX%d route server", ErrPeeringExists, asn, ix)
	}
	e.rs[key] = struct{}{}
	e.rsOrder = append(e.rsOrder, key)
	return nil
}

// AddCrossConnectPeering declares a peering over the cross connect between a
// router of a and a router of b.
func (e *Ebgp) AddCrossConnectPeering(a, b int, rel Relationship) error {
	if rel < Provider || rel > Unfiltered {
		return fmt.Errorf("%w: %v", ErrUnknownRelation, rel)
	}
	key := CrossConnectKey{A: a, B: b}
	if _, ok := e.xc[key]; ok {
		return fmt.Errorf("%w: cross connect AS%d-AS%d", ErrPeeringExists, a, b)
	}
	if _, ok := e.xc[CrossConnectKey{A: b, B: a}]; ok {
		return fmt.Errorf("%w: cross connect AS%d-AS%d", ErrPeeringExists, a, b)
	}
	e.xc[key] = rel
	e.xcOrder = append(e.xcOrder, key)
	return nil
}

// PrivatePeering returns the relationship declared for (ix, a, b) in that
// order.
func (e *Ebgp) PrivatePeering(ix, a, b int) (Relationship, bool) {
	rel, ok := e.private[PeeringKey{IX: ix, A: a, B: b}]
	return rel, ok
}

// PrivatePeerings returns a copy of the private peering table.
func (e *Ebgp) PrivatePeerings() map[PeeringKey]Relationship {
	out := make(map[PeeringKey]Relationship, len(e.private))
	for k, v := range e.private {
		out[k] = v
	}
	return out
}

// PrivatePeeringKeys returns the private peering keys in declaration order.
func (e *Ebgp) PrivatePeeringKeys() []PeeringKey {
	return append([]PeeringKey(nil), e.privateOrder...)
}

// RsPeers returns the route-server peerings in declaration order.
func (e *Ebgp) RsPeers() []RSPeerKey { return append([]RSPeerKey(nil), e.rsOrder...) }

// CrossConnectPeerings returns a copy of the cross-connect peering table.
func (e *Ebgp) CrossConnectPeerings() map[CrossConnectKey]Relationship {
	out := make(map[CrossConnectKey]Relationship, len(e.xc))
	for k, v := range e.xc {
		out[k] = v
	}
	return out
}

// CrossConnectPeeringKeys returns the cross-connect keys in declaration order.
func (e *Ebgp) CrossConnectPeeringKeys() []CrossConnectKey {
	return append([]CrossConnectKey(nil), e.xcOrder...)
}

// OwnPrefixes returns the prefixes of every network registered under asn.
func OwnPrefixes(reg *kb.Registry, asn int) []netip.Prefix {
	var out []netip.Prefix
	for _, n := range kb.ListAs[*model.Network](reg, strconv.Itoa(asn), kb.KindNetwork) {
		out = append(out, n.Prefix())
	}
	return out
}

// CustomerPrefixes returns the own prefixes of the direct customers of asn.
// Customers of customers are not included.
func (e *Ebgp) CustomerPrefixes(reg *kb.Registry, asn int) []netip.Prefix {
	var out []netip.Prefix
	for _, key := range e.privateOrder {
		if key.A == asn && e.private[key] == Provider {
			out = append(out, OwnPrefixes(reg, key.B)...)
		}
	}
	for _, key := range e.xcOrder {
		if key.A == asn && e.xc[key] == Provider {
			out = append(out, OwnPrefixes(reg, key.B)...)
		}
	}
	return out
}

// ExportSet is what asn may announce to peers and providers: its own
// prefixes and those of its direct customers.
func (e *Ebgp) ExportSet(reg *kb.Registry, asn int) model.RoutePolicy {
	prefixes := OwnPrefixes(reg, asn)
	prefixes = append(prefixes, e.CustomerPrefixes(reg, asn)...)
	return model.ExportPrefixes(prefixes...)
}

// ExportPolicies returns what a exports to b and what b exports to a under
// rel.
func (e *Ebgp) ExportPolicies(reg *kb.Registry, a, b int, rel Relationship) (aToB, bToA model.RoutePolicy, err error) {
	switch rel {
	case Unfiltered:
		return model.ExportAll(), model.ExportAll(), nil
	case Provider:
		return model.ExportAll(), e.ExportSet(reg, b), nil
	case Peer:
		return e.ExportSet(reg, a), e.ExportSet(reg, b), nil
	default:
		return model.RoutePolicy{}, model.RoutePolicy{}, fmt.Errorf("%w: %v", ErrUnknownRelation, rel)
	}
}

// sessionPrefix names a session by what the remote side is to the local one.
func sessionPrefix(rel Relationship, localIsA bool) string {
	switch rel {
	case Provider:
		if localIsA {
			return "c"
		}
		return "u"
	case Peer:
		return "p"
	default:
		return "x"
	}
}

// Configure does nothing; peerings are resolved against the finished
// topology during render.
func (e *Ebgp) Configure(*core.Emulator) error { return nil }

// Render adds a BGP session on both ends of every peering.
func (e *Ebgp) Render(emu *core.Emulator) error {
	reg := emu.Registry()

	for _, key := range e.privateOrder {
		rel := e.private[key]
		ixNet, err := exchangeNetwork(reg, key.IX)
		if err != nil {
			return fmt.Errorf("peering %s: %w", key, err)
		}
		ra, ifa, err := borderRouter(reg, key.A, ixNet)
		if err != nil {
			return fmt.Errorf("peering %s: %w", key, err)
		}
		rb, ifb, err := borderRouter(reg, key.B, ixNet)
		if err != nil {
			return fmt.Errorf("peering %s: %w", key, err)
		}
		aToB, bToA, err := e.ExportPolicies(reg, key.A, key.B, rel)
		if err != nil {
			return err
		}
		suffix := "_ix" + strconv.Itoa(key.IX)
		if err := addPeerSession(ra, sessionPrefix(rel, true), suffix, ifa.Address(), ifb.Address(), key.A, key.B, aToB); err != nil {
			return err
		}
		if err := addPeerSession(rb, sessionPrefix(rel, false), suffix, ifb.Address(), ifa.Address(), key.B, key.A, bToA); err != nil {
			return err
		}
	}

	for _, key := range e.rsOrder {
		if err := e.renderRsPeer(reg, key); err != nil {
			return err
		}
	}

	for _, key := range e.xcOrder {
		if err := e.renderCrossConnectPeer(reg, key, e.xc[key]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Ebgp) renderRsPeer(reg *kb.Registry, key RSPeerKey) error {
	ixNet, err := exchangeNetwork(reg, key.IX)
	if err != nil {
		return fmt.Errorf("AS%d route server peering: %w", key.ASN, err)
	}
	rs, err := kb.GetAs[*model.Node](reg, kb.ScopeIX, kb.KindRouteServer, model.IXName(key.IX))
	if err != nil {
		return fmt.Errorf("AS%d route server peering: %w", key.ASN, err)
	}
	rsIface := rs.InterfaceOn(ixNet)
	if rsIface == nil {
		return fmt.Errorf("%w: route server of IX%d", ErrNoAttachment, key.IX)
	}
	member, memberIface, err := borderRouter(reg, key.ASN, ixNet)
	if err != nil {
		return fmt.Errorf("AS%d route server peering: %w", key.ASN, err)
	}

	rsConf, err := rs.Routing()
	if err != nil {
		return err
	}
	if err := rsConf.AddBGPSession(model.BGPSession{
		Name:              fmt.Sprintf("p_as%d", key.ASN),
		LocalAddr:         rsIface.Address(),
		PeerAddr:          memberIface.Address(),
		LocalASN:          key.IX,
		PeerASN:           key.ASN,
		Table:             model.MasterTable,
		Import:            model.ExportAll(),
		Export:            model.ExportAll(),
		RouteServerClient: true,
	}); err != nil {
		return err
	}
	return addSession(member, fmt.Sprintf("p_rs%d", key.IX), memberIface.Address(), rsIface.Address(), key.ASN, key.IX, e.ExportSet(reg, key.ASN))
}

func (e *Ebgp) renderCrossConnectPeer(reg *kb.Registry, key CrossConnectKey, rel Relationship) error {
	ra, rb, err := crossConnectedRouters(reg, key.A, key.B)
	if err != nil {
		return err
	}
	la, lb, err := CrossConnectPeer(reg, ra, rb.ASN(), rb.Name())
	if err != nil {
		return err
	}
	aToB, bToA, err := e.ExportPolicies(reg, key.A, key.B, rel)
	if err != nil {
		return err
	}
	if err := addPeerSession(ra, sessionPrefix(rel, true), "_xc", la, lb, key.A, key.B, aToB); err != nil {
		return err
	}
	return addPeerSession(rb, sessionPrefix(rel, false), "_xc", lb, la, key.B, key.A, bToA)
}

// addPeerSession names the session "<prefix>_as<peer>", adding suffix when
// the same pair already peers elsewhere.
func addPeerSession(router *model.Node, prefix, suffix string, local, peer netip.Addr, localASN, peerASN int, export model.RoutePolicy) error {
	rc, err := router.Routing()
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_as%d", prefix, peerASN)
	if _, taken := rc.Protocol(name); taken {
		name += suffix
	}
	return addSession(router, name, local, peer, localASN, peerASN, export)
}

func addSession(router *model.Node, name string, local, peer netip.Addr, localASN, peerASN int, export model.RoutePolicy) error {
	rc, err := router.Routing()
	if err != nil {
		return err
	}
	rc.AddTable(BGPTable)
	rc.AddTablePipe(BGPTable, "")
	if rc.HasTable(DirectTable) {
		rc.AddTablePipe(DirectTable, BGPTable)
	}
	return rc.AddBGPSession(model.BGPSession{
		Name:      name,
		LocalAddr: local,
		PeerAddr:  peer,
		LocalASN:  localASN,
		PeerASN:   peerASN,
		Table:     BGPTable,
		Import:    model.ExportAll(),
		Export:    export,
	})
}

func exchangeNetwork(reg *kb.Registry, ix int) (*model.Network, error) {
	n, err := kb.GetAs[*model.Network](reg, kb.ScopeIX, kb.KindNetwork, model.IXName(ix))
	if err != nil {
		return nil, fmt.Errorf("%w: IX%d", ErrIXNotFound, ix)
	}
	return n, nil
}

// borderRouter returns the first router of asn attached to network.
func borderRouter(reg *kb.Registry, asn int, network *model.Network) (*model.Node, *model.Interface, error) {
	for _, r := range routersOf(reg, asn) {
		if iface := r.InterfaceOn(network); iface != nil {
			return r, iface, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: AS%d on %s", ErrNoAttachment, asn, network.Name())
}

func crossConnectedRouters(reg *kb.Registry, a, b int) (*model.Node, *model.Node, error) {
	for _, ra := range routersOf(reg, a) {
		for _, xc := range ra.CrossConnects() {
			if xc.PeerASN != b {
				continue
			}
			rb, err := kb.GetAs[*model.Node](reg, strconv.Itoa(b), kb.KindRouter, xc.PeerName)
			if err != nil {
				return nil, nil, err
			}
			return ra, rb, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no cross connect between AS%d and AS%d", ErrNoAttachment, a, b)
}
