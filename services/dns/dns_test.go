package dns

import (
	"context"
	"net/netip"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
)

// baseWithHosts returns a Base holding AS150 with one network and hosts
// named after hosts, addressed from 10.150.0.71 upwards.
func baseWithHosts(t *testing.T, hosts ...string) *layers.Base {
	t.Helper()
	base := layers.NewBase()
	as, err := base.CreateAutonomousSystem(150)
	require.NoError(t, err)
	_, err = as.CreateNetwork("net0", model.AutoAddress)
	require.NoError(t, err)
	for _, name := range hosts {
		h, err := as.CreateHost(name)
		require.NoError(t, err)
		h.JoinNetwork("net0", model.AutoAddress)
	}
	return base
}

// lines renders records with single spaces, e.g. "www.example.com. 300 IN A 10.0.0.1".
func lines(rrs []dns.RR) []string {
	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		out = append(out, strings.Join(strings.Fields(rr.String()), " "))
	}
	return out
}

func TestGetZoneBuildsTree(t *testing.T) {
	d := New()
	z := d.GetZone("www.Example.com")
	assert.Equal(t, "www.example.com.", z.Name())
	assert.Same(t, z, d.GetZone("www.example.com."))

	com := d.Root().SubZones()
	require.Len(t, com, 1)
	assert.Equal(t, "com.", com[0].Name())
	assert.True(t, com[0].HasSubZone("example"))
	assert.Same(t, d.Root(), d.GetZone("."))
}

func TestNameServersPublishThemselves(t *testing.T) {
	d := New()
	d.InstallByName(150, "root").AddZone(".")
	d.InstallByName(150, "com").AddZone("com.")
	d.InstallByName(150, "example").AddZone("example.com.")

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(baseWithHosts(t, "root", "com", "example")))
	require.NoError(t, emu.AddLayer(d))
	require.NoError(t, emu.Render(context.Background()))

	example := d.GetZone("example.com")
	assert.Equal(t, []string{
		"example.com. 300 IN NS ns1.example.com.",
		"ns1.example.com. 300 IN A 10.150.0.73",
	}, lines(example.Records()))
	assert.Equal(t, []string{
		"example.com. 300 IN NS ns1.example.com.",
		"ns1.example.com. 300 IN A 10.150.0.73",
	}, lines(d.GetZone("com").GlueRecords()))
	assert.Equal(t, []string{"com. 300 IN NS ns1.com.", "ns1.com. 300 IN A 10.150.0.72"}, lines(d.Root().GlueRecords()))
	assert.Contains(t, lines(d.Root().Records()), ". 300 IN NS ns1.")

	targets := d.Targets()
	require.Len(t, targets, 3)
	node := targets[2].Node
	assert.Equal(t, "example", node.Name())
	assert.True(t, node.HasService(ServiceName))
	f, ok := node.File(ZoneDir + "/example.com")
	require.True(t, ok)
	assert.Contains(t, f.Content, "$ORIGIN example.com.\n")
	assert.Contains(t, f.Content, "example.com.\t300\tIN\tSOA\tns1.example.com. admin.example.com. 1 900 900 1800 60\n")
	assert.Contains(t, f.Content, "ns1.example.com.\t300\tIN\tA\t10.150.0.73\n")
	conf, ok := node.File(NamedZoneConf)
	require.True(t, ok)
	assert.Contains(t, conf.Content, `zone "example.com." { type master; file "/etc/bind/zones/example.com";`)

	rootFile, ok := targets[0].Node.File(ZoneDir + "/root")
	require.True(t, ok)
	assert.Contains(t, rootFile.Content, "com.\t300\tIN\tNS\tns1.com.\n")
}

func TestPendingRecordsFollowBindings(t *testing.T) {
	d := New()
	d.InstallByName(150, "ns").AddZone("example.com")
	d.GetZone("example.com").ResolveToVnode("www", "web-vnode")

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(baseWithHosts(t, "ns", "web")))
	require.NoError(t, emu.AddLayer(d))
	emu.AddBinding(core.MustBinding("web-vnode", core.ActionFirst, core.Filter{NodeName: "web"}))
	require.NoError(t, emu.Render(context.Background()))

	zone := d.GetZone("example.com")
	assert.Contains(t, lines(zone.Records()), "www.example.com. 300 IN A 10.150.0.72")
	assert.Empty(t, zone.PendingRecords())
}

func TestPendingRecordWithoutBindingFails(t *testing.T) {
	d := New()
	d.GetZone("example.com").ResolveToVnode("www", "nowhere")

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(baseWithHosts(t, "h0")))
	require.NoError(t, emu.AddLayer(d))
	err := emu.Render(context.Background())
	require.ErrorIs(t, err, core.ErrUnbindable)
	assert.Contains(t, err.Error(), "example.com.")
}

func TestMergeRejectsRecordAgainstSubzone(t *testing.T) {
	withRecord := New()
	require.NoError(t, withRecord.GetZone("example.com").AddRecord("foo A 1.2.3.4"))
	withSubzone := New()
	withSubzone.GetZone("foo.example.com")

	_, err := Merger{}.Merge(withRecord, withSubzone)
	require.ErrorIs(t, err, ErrZoneConflict)
	require.ErrorIs(t, err, core.ErrMergeConflict)
	assert.Contains(t, err.Error(), "foo.example.com.")

	_, err = Merger{}.Merge(withSubzone, withRecord)
	require.True(t, IsZoneConflict(err), "conflict must be detected from either side, got %v", err)
}

func TestMergeRejectsFullyQualifiedRecordAgainstSubzone(t *testing.T) {
	a, b := New(), New()
	require.NoError(t, a.GetZone("example.com").AddRecord("foo.Example.COM. A 1.2.3.4"))
	b.GetZone("foo.example.com")
	_, err := MergeZones(a.Root(), b.Root())
	require.ErrorIs(t, err, ErrZoneConflict)
}

func TestMergeRejectsDivergentPendingRecords(t *testing.T) {
	a, b := New(), New()
	a.GetZone("example.com").ResolveToVnode("www", "web1")
	b.GetZone("example.com").ResolveToVnode("www", "web2")
	_, err := MergeZones(a.Root(), b.Root())
	require.ErrorIs(t, err, ErrZoneConflict)

	c := New()
	c.GetZone("example.com").ResolveToVnode("www", "web1")
	merged, err := MergeZones(a.Root(), c.Root())
	require.NoError(t, err, "the same target on both sides is not a conflict")
	assert.Equal(t, map[string]string{"www": "web1"}, merged.SubZones()[0].SubZones()[0].PendingRecords())
}

func TestMergeUnionsTrees(t *testing.T) {
	a, b := New(), New()
	for zone, records := range map[*Zone][]string{
		a.GetZone("example.com"): {"www A 10.0.0.1", "mail A 10.0.0.2"},
		b.GetZone("example.com"): {"www  600 A 10.0.0.1", "ftp A 10.0.0.3"},
		b.GetZone("example.org"): {"@ A 10.0.0.4"},
	} {
		for _, rr := range records {
			require.NoError(t, zone.AddRecord(rr))
		}
	}
	a.Install("ns-a").AddZone("example.com")
	b.Install("ns-b").AddZone("example.org")

	out, err := Merger{}.Merge(a, b)
	require.NoError(t, err)
	merged := out.(*Service)

	assert.Equal(t, []string{
		"www.example.com. 300 IN A 10.0.0.1",
		"mail.example.com. 300 IN A 10.0.0.2",
		"ftp.example.com. 300 IN A 10.0.0.3",
	}, lines(merged.GetZone("example.com").Records()))
	assert.Equal(t, []string{"example.org. 300 IN A 10.0.0.4"}, lines(merged.GetZone("example.org").Records()))
	require.Len(t, merged.Pending(), 2)
	assert.Equal(t, "ns-a", merged.Pending()[0].VNode)
}

func TestMergeThroughEmulator(t *testing.T) {
	a, b := core.NewEmulator(), core.NewEmulator()
	da, db := New(), New()
	da.Install("ns").AddZone("example.com")
	db.Install("ns").AddZone("example.org")
	require.NoError(t, a.AddLayer(da))
	require.NoError(t, b.AddLayer(db))

	_, err := core.Merge(a, b, []core.Merger{Merger{}})
	require.ErrorIs(t, err, core.ErrMergeConflict, "the same virtual node installed on both sides")
}

func TestAddRecordParsesZoneFileSyntax(t *testing.T) {
	z := NewZone("Example.com")
	require.NoError(t, z.AddRecord("www A 10.0.0.1"))
	require.NoError(t, z.AddRecord("mail 60 IN MX 10 mx.example.net."))
	require.NoError(t, z.AddRecord("@ TXT \"v=spf1 -all\""))
	require.NoError(t, z.AddRecord("WWW A 10.0.0.1"), "duplicates are dropped, not rejected")

	rrs := z.Records()
	require.Len(t, rrs, 3)
	assert.Equal(t, "www.example.com.", rrs[0].Header().Name)
	mx, ok := rrs[1].(*dns.MX)
	require.True(t, ok, "got %T", rrs[1])
	assert.Equal(t, uint32(60), mx.Hdr.Ttl)
	assert.Equal(t, "mx.example.net.", mx.Mx)
	assert.Equal(t, "example.com.", rrs[2].Header().Name)
}

func TestAddRecordRejectsGarbage(t *testing.T) {
	z := NewZone("example.com")
	for _, rr := range []string{"garbage", "www A not-an-address", "", "www A 10.0.0.1\nftp A 10.0.0.2"} {
		err := z.AddRecord(rr)
		require.ErrorIs(t, err, ErrBadRecord, "%q", rr)
		assert.True(t, core.IsConfigurationError(err))
	}
	assert.Empty(t, z.Records())
	assert.NotContains(t, z.ZoneFile(), "garbage")
}

func TestZoneFileParsesBack(t *testing.T) {
	z := NewZone("example.com")
	require.NoError(t, z.AddRecord("www A 10.0.0.1"))
	z.AddGlueRecord("sub.example.com", "ns1.sub.example.com", netip.MustParseAddr("10.0.0.9"))

	zp := dns.NewZoneParser(strings.NewReader(z.ZoneFile()), "", "")
	var got []string
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		got = append(got, dns.TypeToString[rr.Header().Rrtype]+" "+rr.Header().Name)
	}
	require.NoError(t, zp.Err())
	assert.Equal(t, []string{"SOA example.com.", "A www.example.com.", "NS sub.example.com.", "A ns1.sub.example.com."}, got)
}
