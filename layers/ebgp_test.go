package layers

import (
	"context"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/model"
)

// twoASesAtIX100 builds AS150 and AS151, each with router0 on IX100.
func twoASesAtIX100(t *testing.T, rel Relationship) (*core.Emulator, *Ebgp) {
	t.Helper()
	base := NewBase()
	_, err := base.CreateInternetExchange(100, model.AutoAddress)
	require.NoError(t, err)
	makeStubAS(t, base, 150, 100)
	makeStubAS(t, base, 151, 100)

	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddPrivatePeering(100, 150, 151, rel))
	return newEmulator(t, base, NewRouting(), ebgp), ebgp
}

func TestProviderPeeringEndToEnd(t *testing.T) {
	emu, _ := twoASesAtIX100(t, Provider)
	render(t, emu)
	reg := emu.Registry()

	r150, rc150 := router(t, reg, 150, "router0")
	_, rc151 := router(t, reg, 151, "router0")

	toCustomer := session(t, rc150, "c_as151")
	assert.True(t, toCustomer.Export.IsAll(), "provider must export everything, got %s", toCustomer.Export)
	assert.True(t, toCustomer.Import.IsAll())
	assert.Equal(t, netip.MustParseAddr("10.100.0.150"), toCustomer.LocalAddr)
	assert.Equal(t, netip.MustParseAddr("10.100.0.151"), toCustomer.PeerAddr)
	assert.Equal(t, 150, toCustomer.LocalASN)
	assert.Equal(t, 151, toCustomer.PeerASN)

	toProvider := session(t, rc151, "u_as150")
	assert.True(t, toProvider.Export.Equal(model.ExportPrefixes(prefixes("10.151.0.0/24")...)),
		"customer must export only its own prefixes, got %s", toProvider.Export)

	assert.True(t, rc150.HasPipe(DirectTable, BGPTable))
	assert.True(t, rc150.HasPipe(BGPTable, model.MasterTable))
	assert.True(t, rc151.HasPipe(DirectTable, BGPTable))

	conf, ok := r150.File(model.BirdConfigPath)
	require.True(t, ok)
	assert.Contains(t, conf.Content, "protocol bgp c_as151 {")
	assert.Contains(t, conf.Content, "export all;")
	assert.Contains(t, conf.Content, "neighbor 10.100.0.151 as 151;")
}

func TestExportFilterTable(t *testing.T) {
	emu, ebgp := twoASesAtIX100(t, Peer)
	render(t, emu)
	reg := emu.Registry()

	own150 := model.ExportPrefixes(prefixes("10.150.0.0/24")...)
	own151 := model.ExportPrefixes(prefixes("10.151.0.0/24")...)

	cases := []struct {
		rel        Relationship
		aToB, bToA model.RoutePolicy
	}{
		{Unfiltered, model.ExportAll(), model.ExportAll()},
		{Provider, model.ExportAll(), own151},
		{Peer, own150, own151},
	}
	for _, tc := range cases {
		aToB, bToA, err := ebgp.ExportPolicies(reg, 150, 151, tc.rel)
		require.NoError(t, err, tc.rel.String())
		assert.True(t, aToB.Equal(tc.aToB), "%s a->b: got %s want %s", tc.rel, aToB, tc.aToB)
		assert.True(t, bToA.Equal(tc.bToA), "%s b->a: got %s want %s", tc.rel, bToA, tc.bToA)
	}

	_, rc150 := router(t, reg, 150, "router0")
	_, rc151 := router(t, reg, 151, "router0")
	assert.True(t, session(t, rc150, "p_as151").Export.Equal(own150))
	assert.True(t, session(t, rc151, "p_as150").Export.Equal(own151))
}

func TestCustomerPrefixesAreOneHop(t *testing.T) {
	base := NewBase()
	_, err := base.CreateInternetExchange(100, model.AutoAddress)
	require.NoError(t, err)
	for _, asn := range []int{2, 3, 4} {
		makeStubAS(t, base, asn, 100)
	}
	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddPrivatePeering(100, 2, 3, Provider))
	require.NoError(t, ebgp.AddPrivatePeering(100, 3, 4, Provider))
	emu := newEmulator(t, base, NewRouting(), ebgp)
	render(t, emu)
	reg := emu.Registry()

	set2 := ebgp.ExportSet(reg, 2)
	assert.True(t, set2.Permits(netip.MustParsePrefix("10.2.0.0/24")))
	assert.True(t, set2.Permits(netip.MustParsePrefix("10.3.0.0/24")))
	assert.False(t, set2.Permits(netip.MustParsePrefix("10.4.0.0/24")), "customer of a customer is not exported")

	set3 := ebgp.ExportSet(reg, 3)
	assert.True(t, set3.Permits(netip.MustParsePrefix("10.4.0.0/24")))

	// AS3 is a customer towards AS2.
	_, rc3 := router(t, reg, 3, "router0")
	assert.True(t, session(t, rc3, "u_as2").Export.Equal(set3))
}

func TestEmptyExportSetRendersAsNone(t *testing.T) {
	base := NewBase()
	_, err := base.CreateInternetExchange(100, model.AutoAddress)
	require.NoError(t, err)
	makeStubAS(t, base, 150, 100)
	// AS151 owns no networks; its router sits on the exchange only.
	as, err := base.CreateAutonomousSystem(151)
	require.NoError(t, err)
	r, err := as.CreateRouter("router0")
	require.NoError(t, err)
	r.JoinNetwork(model.IXName(100), model.AutoAddress)

	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddPrivatePeering(100, 150, 151, Peer))
	emu := newEmulator(t, base, NewRouting(), ebgp)
	render(t, emu)

	_, rc151 := router(t, emu.Registry(), 151, "router0")
	export := session(t, rc151, "p_as150").Export
	assert.True(t, export.IsNone())
	assert.Equal(t, "none", export.Bird())
}

func TestRouteServerPeering(t *testing.T) {
	base := NewBase()
	_, err := base.CreateInternetExchange(100, model.AutoAddress)
	require.NoError(t, err)
	makeStubAS(t, base, 150, 100)
	makeStubAS(t, base, 151, 100)
	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddRsPeer(100, 150))
	require.NoError(t, ebgp.AddRsPeer(100, 151))
	require.ErrorIs(t, ebgp.AddRsPeer(100, 151), ErrPeeringExists)

	emu := newEmulator(t, base, NewRouting(), ebgp)
	render(t, emu)
	reg := emu.Registry()

	ix, err := base.InternetExchange(100)
	require.NoError(t, err)
	rsConf, err := ix.RouteServer().Routing()
	require.NoError(t, err)
	for _, asn := range []int{150, 151} {
		s := session(t, rsConf, fmt.Sprintf("p_as%d", asn))
		assert.True(t, s.Export.IsAll(), "route server reflects everything")
		assert.True(t, s.RouteServerClient)
		assert.Equal(t, 100, s.LocalASN)
		assert.Equal(t, netip.MustParseAddr("10.100.0.100"), s.LocalAddr)
	}

	_, rc150 := router(t, reg, 150, "router0")
	member := session(t, rc150, "p_rs100")
	assert.True(t, member.Export.Equal(model.ExportPrefixes(prefixes("10.150.0.0/24")...)))
	assert.Equal(t, 100, member.PeerASN)
}

func TestPeeringWithoutAttachmentFails(t *testing.T) {
	base := NewBase()
	_, err := base.CreateInternetExchange(100, model.AutoAddress)
	require.NoError(t, err)
	makeStubAS(t, base, 150, 100)
	makeStubAS(t, base, 152) // not on the exchange

	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddPrivatePeering(100, 150, 152, Peer))
	emu := newEmulator(t, base, NewRouting(), ebgp)

	err = emu.Render(context.Background())
	require.ErrorIs(t, err, ErrNoAttachment)
	assert.True(t, core.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "AS152")
}

func TestPrivatePeeringUniqueness(t *testing.T) {
	ebgp := NewEbgp()
	require.NoError(t, ebgp.AddPrivatePeering(100, 150, 151, Provider))
	require.ErrorIs(t, ebgp.AddPrivatePeering(100, 150, 151, Peer), ErrPeeringExists)
	require.ErrorIs(t, ebgp.AddPrivatePeering(100, 151, 150, Peer), ErrPeeringExists)
	require.NoError(t, ebgp.AddPrivatePeering(101, 151, 150, Peer), "another exchange is a distinct peering")
	require.Error(t, ebgp.AddPrivatePeering(100, 152, 152, Peer))

	require.NoError(t, ebgp.AddPrivatePeerings(102, []int{2}, []int{3, 4}, Provider))
	rel, ok := ebgp.PrivatePeering(102, 2, 4)
	require.True(t, ok)
	assert.Equal(t, Provider, rel)
	assert.Len(t, ebgp.PrivatePeeringKeys(), 4)
}

func TestParseRelationship(t *testing.T) {
	for in, want := range map[string]Relationship{"provider": Provider, "Peer": Peer, "unfiltered": Unfiltered} {
		got, err := ParseRelationship(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRelationship("sibling")
	require.ErrorIs(t, err, ErrUnknownRelation)
}
