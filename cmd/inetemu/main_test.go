package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/signalsfoundry/inetemu/compiler"
	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/internal/config"
)

const fixture = "../../topology/testdata/peering.yaml"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd("inetemu", &out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildWritesArtifactsAndMetrics(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	metrics := filepath.Join(dir, "build.prom")

	out, err := execute(t, "build", fixture, "--out", outDir, "--metrics-file", metrics, "--log.level", "error")
	require.NoError(t, err, out)

	assert.Contains(t, out, "Rendered 7 layers into "+outDir+" (seed 7)")
	assert.Contains(t, out, "rnode")
	assert.Contains(t, out, "hnode")

	_, err = os.Stat(filepath.Join(outDir, compiler.ManifestFile))
	require.NoError(t, err)
	zone, err := os.ReadFile(filepath.Join(outDir, "150_hnode_ns", "etc", "bind", "zones", "example.com"))
	require.NoError(t, err)
	assert.Contains(t, string(zone), "www.example.com.\t300\tIN\tA\t10.151.0.71\n")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `inetemu_builds_total{result="ok"} 1`)
}

func TestBuildSeedFlagOverridesDescription(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	out, err := execute(t, "build", fixture, "--out", outDir, "--seed", "42", "--log.level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(seed 42)")
}

func TestBuildRequiresTopology(t *testing.T) {
	_, err := execute(t, "build", "--out", t.TempDir())
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestBuildReportsConfigurationErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ases: [{asn: 1}, {asn: 1}]\n"), 0o644))

	_, err := execute(t, "build", bad, "--out", t.TempDir(), "--log.level", "error")
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "inetemu dev", strings.TrimSpace(out))
}
