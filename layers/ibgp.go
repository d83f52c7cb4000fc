package layers

import (
	"fmt"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// Ibgp builds a full iBGP mesh over the loopbacks of every AS.
type Ibgp struct {
	core.LayerBase

	masked map[int]struct{}
	order  []int
}

// NewIbgp returns the iBGP layer.
func NewIbgp() *Ibgp {
	i := &Ibgp{LayerBase: core.NewLayerBase(IbgpName), masked: make(map[int]struct{})}
	i.AddDependency(RoutingName, false, false)
	i.AddDependency(OspfName, false, true)
	return i
}

// MaskAsn leaves asn out of the mesh.
func (i *Ibgp) MaskAsn(asn int) *Ibgp {
	if _, ok := i.masked[asn]; !ok {
		i.masked[asn] = struct{}{}
		i.order = append(i.order, asn)
	}
	return i
}

func (i *Ibgp) maskAsn(asn int) { i.MaskAsn(asn) }

// MaskedAsns returns the masked AS numbers in the order they were masked.
func (i *Ibgp) MaskedAsns() []int { return append([]int(nil), i.order...) }

// IsMasked reports whether asn is left out.
func (i *Ibgp) IsMasked(asn int) bool {
	_, ok := i.masked[asn]
	return ok
}

// Render adds one session per router pair inside every unmasked AS.
func (i *Ibgp) Render(emu *core.Emulator) error {
	reg := emu.Registry()
	for _, asn := range asnsWithRouters(reg) {
		if i.IsMasked(asn) {
			continue
		}
		if err := meshLoopbacks(routersOf(reg, asn), "ibgp"); err != nil {
			return err
		}
	}
	return nil
}

// meshLoopbacks connects every pair of routers with an iBGP session between
// their loopbacks.
func meshLoopbacks(routers []*model.Node, prefix string) error {
	for _, local := range routers {
		lrc, err := local.Routing()
		if err != nil {
			return err
		}
		for _, remote := range routers {
			if remote == local {
				continue
			}
			rrc, err := remote.Routing()
			if err != nil {
				return err
			}
			if !lrc.Loopback().IsValid() || !rrc.Loopback().IsValid() {
				return fmt.Errorf("%w: %s or %s has no loopback", core.ErrInvariant, local.Key(), remote.Key())
			}
			lrc.AddTable(BGPTable)
			lrc.AddTablePipe(BGPTable, "")
			igp := ""
			if lrc.HasTable(OSPFTable) {
				igp = OSPFTable
			}
			if err := lrc.AddBGPSession(model.BGPSession{
				Name:        fmt.Sprintf("%s_%s", prefix, remote.Name()),
				LocalAddr:   lrc.Loopback(),
				PeerAddr:    rrc.Loopback(),
				LocalASN:    local.ASN(),
				PeerASN:     remote.ASN(),
				Table:       BGPTable,
				IGPTable:    igp,
				Import:      model.ExportAll(),
				Export:      model.ExportAll(),
				NextHopSelf: true,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// asnsWithRouters returns the AS numbers that own routers, in registry order.
func asnsWithRouters(reg *kb.Registry) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, key := range reg.KeysByKind(kb.KindRouter) {
		n, err := kb.GetAs[*model.Node](reg, key.Scope, key.Kind, key.Name)
		if err != nil {
			continue
		}
		if _, dup := seen[n.ASN()]; dup {
			continue
		}
		seen[n.ASN()] = struct{}{}
		out = append(out, n.ASN())
	}
	return out
}
