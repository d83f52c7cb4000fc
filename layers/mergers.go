package layers

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/model"
)

// Mergers returns the default mergers of every layer in this package.
func Mergers() []core.Merger {
	return []core.Merger{
		&BaseMerger{},
		&RoutingMerger{},
		&EbgpMerger{},
		&IbgpMerger{},
		&OspfMerger{},
		&MplsMerger{},
	}
}

func layerPair[T core.Layer](a, b core.Layer) (T, T, error) {
	var zero T
	ta, ok := a.(T)
	if !ok {
		return zero, zero, fmt.Errorf("%w: %T", core.ErrLayerType, a)
	}
	tb, ok := b.(T)
	if !ok {
		return zero, zero, fmt.Errorf("%w: %T", core.ErrLayerType, b)
	}
	return ta, tb, nil
}

func same[V comparable](x, y V) bool { return x == y }

// BaseMerger unions autonomous systems and exchanges. The same AS number or
// exchange id on both sides goes to the conflict handlers, which keep the
// first input's object by default.
type BaseMerger struct {
	OnASConflict core.ConflictFunc[int, *model.AutonomousSystem]
	OnIXConflict core.ConflictFunc[int, *model.InternetExchange]
}

func (m *BaseMerger) Name() string     { return "DefaultBaseMerger" }
func (m *BaseMerger) TypeName() string { return BaseName }

func (m *BaseMerger) Merge(a, b core.Layer) (core.Layer, error) {
	ba, bb, err := layerPair[*Base](a, b)
	if err != nil {
		return nil, err
	}
	out := NewBase()

	out.ases, err = core.MergeMaps(ba.ases, bb.ases, same[*model.AutonomousSystem], m.OnASConflict)
	if err != nil {
		return nil, fmt.Errorf("autonomous systems: %w", err)
	}
	out.asOrder = core.UnionKeys(ba.asOrder, bb.asOrder)

	out.ixes, err = core.MergeMaps(ba.ixes, bb.ixes, same[*model.InternetExchange], m.OnIXConflict)
	if err != nil {
		return nil, fmt.Errorf("exchanges: %w", err)
	}
	out.ixOrder = core.UnionKeys(ba.ixOrder, bb.ixOrder)
	return out, nil
}

// RoutingMerger keeps the loopback pool of the first input unless the
// handler says otherwise.
type RoutingMerger struct {
	OnPoolConflict core.ConflictFunc[string, netip.Prefix]
}

func (m *RoutingMerger) Name() string     { return "DefaultRoutingMerger" }
func (m *RoutingMerger) TypeName() string { return RoutingName }

func (m *RoutingMerger) Merge(a, b core.Layer) (core.Layer, error) {
	ra, rb, err := layerPair[*Routing](a, b)
	if err != nil {
		return nil, err
	}
	pool := ra.pool
	if ra.pool != rb.pool {
		handler := m.OnPoolConflict
		if handler == nil {
			handler = core.PreferA[string, netip.Prefix]
		}
		if pool, err = handler("loopback pool", ra.pool, rb.pool); err != nil {
			return nil, err
		}
	}
	return NewRouting().SetLoopbackPool(pool), nil
}

// EbgpMerger unions the peering tables. A pair declared on both sides, in
// either order, with different relationships goes to OnConflict, which keeps
// the first input's relationship by default. The pair keeps the first
// input's orientation unless OnConflict returns the second input's
// relationship, in which case the second input's orientation is kept too.
// Opposite Provider claims are equal values, so OnConflict can only reject
// them; any value it returns keeps the first input's orientation.
//
// Cross-connect peerings use the same rules; their conflicts reach
// OnConflict with IX 0.
type EbgpMerger struct {
	OnConflict core.ConflictFunc[PeeringKey, Relationship]
}

func (m *EbgpMerger) Name() string     { return "DefaultEbgpMerger" }
func (m *EbgpMerger) TypeName() string { return EbgpName }

func (m *EbgpMerger) Merge(a, b core.Layer) (core.Layer, error) {
	ea, eb, err := layerPair[*Ebgp](a, b)
	if err != nil {
		return nil, err
	}
	handler := m.OnConflict
	if handler == nil {
		handler = core.PreferA[PeeringKey, Relationship]
	}

	private, privateOrder, err := foldPeerings(ea.private, ea.privateOrder, eb.private, eb.privateOrder,
		func(k PeeringKey) PeeringKey { return PeeringKey{IX: k.IX, A: k.B, B: k.A} }, handler)
	if err != nil {
		return nil, fmt.Errorf("private peerings: %w", err)
	}
	xc, xcOrder, err := foldPeerings(ea.xc, ea.xcOrder, eb.xc, eb.xcOrder,
		func(k CrossConnectKey) CrossConnectKey { return CrossConnectKey{A: k.B, B: k.A} },
		func(k CrossConnectKey, x, y Relationship) (Relationship, error) {
			return handler(PeeringKey{A: k.A, B: k.B}, x, y)
		})
	if err != nil {
		return nil, fmt.Errorf("cross-connect peerings: %w", err)
	}

	out := NewEbgp()
	for _, key := range privateOrder {
		if err := out.AddPrivatePeering(key.IX, key.A, key.B, private[key]); err != nil {
			return nil, err
		}
	}
	for _, key := range core.UnionKeys(ea.rsOrder, eb.rsOrder) {
		if err := out.AddRsPeer(key.IX, key.ASN); err != nil {
			return nil, err
		}
	}
	for _, key := range xcOrder {
		if err := out.AddCrossConnectPeering(key.A, key.B, xc[key]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// foldPeerings merges b's peering table into a copy of a's. A pair b declares
// in reverse is matched against a's entry through reverse. Symmetric
// relationships that agree need no decision; a Provider in reverse always
// does, since it names the opposite provider.
func foldPeerings[K comparable](
	a map[K]Relationship, aOrder []K,
	b map[K]Relationship, bOrder []K,
	reverse func(K) K,
	onConflict core.ConflictFunc[K, Relationship],
) (map[K]Relationship, []K, error) {
	out := make(map[K]Relationship, len(a)+len(b))
	for k, rel := range a {
		out[k] = rel
	}
	order := append([]K(nil), aOrder...)

	for _, key := range bOrder {
		relB := b[key]
		if relA, ok := out[key]; ok {
			if relA == relB {
				continue
			}
			chosen, err := onConflict(key, relA, relB)
			if err != nil {
				return nil, nil, err
			}
			out[key] = chosen
			continue
		}

		rev := reverse(key)
		relA, ok := out[rev]
		if !ok {
			out[key] = relB
			order = append(order, key)
			continue
		}
		if relA == relB && relA != Provider {
			continue
		}
		chosen, err := onConflict(rev, relA, relB)
		if err != nil {
			return nil, nil, err
		}
		if chosen != relA && chosen == relB {
			delete(out, rev)
			out[key] = chosen
			order[slices.Index(order, rev)] = key
			continue
		}
		out[rev] = chosen
	}
	return out, order, nil
}

// IbgpMerger unions the masked ASes.
type IbgpMerger struct{}

func (IbgpMerger) Name() string     { return "DefaultIbgpMerger" }
func (IbgpMerger) TypeName() string { return IbgpName }

func (IbgpMerger) Merge(a, b core.Layer) (core.Layer, error) {
	ia, ib, err := layerPair[*Ibgp](a, b)
	if err != nil {
		return nil, err
	}
	out := NewIbgp()
	for _, asn := range core.UnionKeys(ia.order, ib.order) {
		out.MaskAsn(asn)
	}
	return out, nil
}

// OspfMerger unions stub and masked networks and masked ASes.
type OspfMerger struct{}

func (OspfMerger) Name() string     { return "DefaultOspfMerger" }
func (OspfMerger) TypeName() string { return OspfName }

func (OspfMerger) Merge(a, b core.Layer) (core.Layer, error) {
	oa, ob, err := layerPair[*Ospf](a, b)
	if err != nil {
		return nil, err
	}
	out := NewOspf()
	for _, k := range core.UnionKeys(oa.stubOrder, ob.stubOrder) {
		out.MarkAsStub(k.ASN, k.Name)
	}
	for _, k := range core.UnionKeys(oa.netOrder, ob.netOrder) {
		out.MaskNetwork(k.ASN, k.Name)
	}
	for _, asn := range core.UnionKeys(oa.maskedOrder, ob.maskedOrder) {
		out.MaskAsn(asn)
	}
	return out, nil
}

// MplsMerger unions the enabled ASes.
type MplsMerger struct{}

func (MplsMerger) Name() string     { return "DefaultMplsMerger" }
func (MplsMerger) TypeName() string { return MplsName }

func (MplsMerger) Merge(a, b core.Layer) (core.Layer, error) {
	ma, mb, err := layerPair[*Mpls](a, b)
	if err != nil {
		return nil, err
	}
	out := NewMpls()
	for _, asn := range core.UnionKeys(ma.order, mb.order) {
		out.EnableOn(asn)
	}
	return out, nil
}
