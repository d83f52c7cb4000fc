package layers

import (
	"context"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// makeStubAS creates an AS with one network, a router "router0" joined to
// that network and to every exchange in ixes, and a host "host0".
func makeStubAS(t *testing.T, base *Base, asn int, ixes ...int) *model.AutonomousSystem {
	t.Helper()
	as, err := base.CreateAutonomousSystem(asn)
	require.NoError(t, err)
	_, err = as.CreateNetwork("net0", model.AutoAddress)
	require.NoError(t, err)

	router, err := as.CreateRouter("router0")
	require.NoError(t, err)
	router.JoinNetwork("net0", model.AutoAddress)
	for _, ix := range ixes {
		router.JoinNetwork(model.IXName(ix), model.AutoAddress)
	}

	host, err := as.CreateHost("host0")
	require.NoError(t, err)
	host.JoinNetwork("net0", model.AutoAddress)
	return as
}

func newEmulator(t *testing.T, layers ...core.Layer) *core.Emulator {
	t.Helper()
	emu := core.NewEmulator()
	for _, l := range layers {
		require.NoError(t, emu.AddLayer(l))
	}
	return emu
}

func render(t *testing.T, emu *core.Emulator) {
	t.Helper()
	require.NoError(t, emu.Render(context.Background()))
}

func router(t *testing.T, reg *kb.Registry, asn int, name string) (*model.Node, *model.RouterConfig) {
	t.Helper()
	n, err := kb.GetAs[*model.Node](reg, strconv.Itoa(asn), kb.KindRouter, name)
	require.NoError(t, err)
	rc, err := n.Routing()
	require.NoError(t, err)
	return n, rc
}

func session(t *testing.T, rc *model.RouterConfig, name string) model.BGPSession {
	t.Helper()
	s, ok := rc.BGPSession(name)
	if !ok {
		var names []string
		for _, s := range rc.BGPSessions() {
			names = append(names, s.Name)
		}
		t.Fatalf("session %q not found, have %v", name, names)
	}
	return s
}

func prefixes(ss ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}
