package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
	"github.com/signalsfoundry/inetemu/services/web"
)

func renderedEmulator(t *testing.T) *core.Emulator {
	t.Helper()
	base := layers.NewBase()
	as, err := base.CreateAutonomousSystem(150)
	require.NoError(t, err)
	_, err = as.CreateNetwork("net0", model.AutoAddress)
	require.NoError(t, err)
	r, err := as.CreateRouter("router0")
	require.NoError(t, err)
	r.JoinNetwork("net0", model.AutoAddress)
	h, err := as.CreateHost("web0")
	require.NoError(t, err)
	h.JoinNetwork("net0", model.AutoAddress)

	w := web.New()
	w.InstallByName(150, "web0")

	emu := core.NewEmulator()
	for _, l := range []core.Layer{base, layers.NewRouting(), w} {
		require.NoError(t, emu.AddLayer(l))
	}
	require.NoError(t, emu.Render(context.Background()))
	return emu
}

func TestBuildListsNetworksAndUnits(t *testing.T) {
	emu := renderedEmulator(t)
	m := NewManifestCompiler(WithSeed(3)).Build(emu.Registry())

	assert.Equal(t, uint64(3), m.Seed)
	require.Len(t, m.Networks, 1)
	assert.Equal(t, Resource{ID: "150_net_net0", Scope: "150", Name: "net0", Type: "Local", Prefix: "10.150.0.0/24", MTU: m.Networks[0].MTU}, m.Networks[0])

	var ids []string
	for _, u := range m.Units {
		ids = append(ids, u.ID)
	}
	if diff := cmp.Diff([]string{"150_rnode_router0", "150_hnode_web0"}, ids); diff != "" {
		t.Fatalf("units mismatch (-want +got):\n%s", diff)
	}

	host := m.Units[1]
	assert.Equal(t, "Host", host.Role)
	assert.Equal(t, []Attach{{Network: "150_net_net0", Address: "10.150.0.71/24"}}, host.Interfaces)
	assert.Contains(t, host.Software, "nginx-light")
	assert.Contains(t, host.Services, web.ServiceName)
	assert.Contains(t, host.Files, web.IndexPath)
	assert.NotEmpty(t, host.StartCommands)
}

func TestBuildCarriesLinkProperties(t *testing.T) {
	lossy := model.LinkProperties{LatencyMs: 30, BandwidthBps: 2000000, DropPercent: 1.5}
	base := layers.NewBase()
	as, err := base.CreateAutonomousSystem(150)
	require.NoError(t, err)
	nw, err := as.CreateNetwork("net0", model.AutoAddress)
	require.NoError(t, err)
	nw.SetDefaultLinkProperties(lossy)
	h0, err := as.CreateHost("h0")
	require.NoError(t, err)
	h0.JoinNetwork("net0", model.AutoAddress)
	h1, err := as.CreateHost("h1")
	require.NoError(t, err)
	h1.JoinNetwork("net0", model.AutoAddress)

	emu := core.NewEmulator()
	require.NoError(t, emu.AddLayer(base))
	require.NoError(t, emu.Render(context.Background()))
	h1.Interfaces()[0].SetLinkProperties(model.LinkProperties{LatencyMs: 1})

	m := NewManifestCompiler().Build(emu.Registry())
	require.Len(t, m.Networks, 1)
	assert.Equal(t, lossy, m.Networks[0].Link)
	require.Len(t, m.Units, 2)
	assert.Equal(t, lossy, m.Units[0].Interfaces[0].Link, "interfaces inherit the network default")
	assert.Equal(t, model.LinkProperties{LatencyMs: 1}, m.Units[1].Interfaces[0].Link)

	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, lossy, back.Networks[0].Link)
}

func TestCompileWritesManifestAndFiles(t *testing.T) {
	emu := renderedEmulator(t)
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, emu.Compile(context.Background(), NewManifestCompiler(WithParallelism(2)), out))

	data, err := os.ReadFile(filepath.Join(out, ManifestFile))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	require.Len(t, m.Units, 2)

	index, err := os.ReadFile(filepath.Join(out, "150_hnode_web0", filepath.FromSlash(web.IndexPath)))
	require.NoError(t, err)
	assert.Equal(t, "<h1>web0 at 150!</h1>", string(index))

	_, err = os.Stat(filepath.Join(out, "150_rnode_router0", filepath.FromSlash(model.BirdConfigPath)))
	require.NoError(t, err)
}

func TestCompileNeedsRender(t *testing.T) {
	emu := core.NewEmulator()
	err := emu.Compile(context.Background(), NewManifestCompiler(), t.TempDir())
	require.ErrorIs(t, err, core.ErrNotRendered)
}

func TestCompileStopsOnCanceledContext(t *testing.T) {
	emu := renderedEmulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewManifestCompiler().Compile(ctx, emu.Registry(), t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteFilesRejectsEmptyPath(t *testing.T) {
	err := writeFiles(t.TempDir(), []model.File{{Path: "/", Content: "x"}})
	require.Error(t, err)
}
