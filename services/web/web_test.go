package web

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
)

func newBase(t *testing.T) *layers.Base {
	t.Helper()
	base := layers.NewBase()
	as, err := base.CreateAutonomousSystem(151)
	require.NoError(t, err)
	_, err = as.CreateNetwork("net0", model.AutoAddress)
	require.NoError(t, err)
	h, err := as.CreateHost("web0")
	require.NoError(t, err)
	h.JoinNetwork("net0", model.AutoAddress)
	return base
}

func TestWebServerInstall(t *testing.T) {
	w := New()
	w.InstallByName(151, "web0").SetPort(8080)

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(newBase(t)))
	require.NoError(t, emu.AddLayer(w))
	require.NoError(t, emu.Render(context.Background()))

	targets := w.Targets()
	require.Len(t, targets, 1)
	node := targets[0].Node
	assert.Contains(t, node.Software(), "nginx-light")

	index, ok := node.File(IndexPath)
	require.True(t, ok)
	assert.Equal(t, "<h1>web0 at 151!</h1>", index.Content)

	site, ok := node.File(SiteConfigPath)
	require.True(t, ok)
	assert.Contains(t, site.Content, "listen 8080;")
}

func TestWebServerByAddress(t *testing.T) {
	w := New()
	srv := w.InstallByIP(netip.MustParseAddr("10.151.0.71"), 0)
	srv.SetIndexContent("hello from {nodeName}")

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(newBase(t)))
	require.NoError(t, emu.AddLayer(w))
	require.NoError(t, emu.Render(context.Background()))

	index, ok := w.Targets()[0].Node.File(IndexPath)
	require.True(t, ok)
	assert.Equal(t, "hello from web0", index.Content)
}

func TestWebServerRejectsBadPort(t *testing.T) {
	w := New()
	w.InstallByName(151, "web0").SetPort(70000)

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(newBase(t)))
	require.NoError(t, emu.AddLayer(w))
	err := emu.Render(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestWebMerger(t *testing.T) {
	a, b := New(), New()
	a.Install("web-a")
	b.Install("web-b").SetPort(81)

	out, err := Merger{}.Merge(a, b)
	require.NoError(t, err)
	merged := out.(*Service)
	srv, ok := merged.Server("web-b")
	require.True(t, ok)
	assert.Equal(t, 81, srv.Port())

	c := New()
	c.Install("web-a")
	_, err = Merger{}.Merge(a, c)
	require.ErrorIs(t, err, core.ErrMergeConflict)
}
