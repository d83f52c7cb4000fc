// Package compiler turns a rendered registry into files on disk.
package compiler

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/kb"
	"github.com/signalsfoundry/inetemu/model"
)

// ManifestFile is the name of the index written at the top of the output.
const ManifestFile = "manifest.yaml"

// Manifest describes a whole emulation: one unit per node and one resource
// per network.
type Manifest struct {
	Seed     uint64     `yaml:"seed,omitempty"`
	Networks []Resource `yaml:"networks"`
	Units    []Unit     `yaml:"units"`
}

// Resource is an L2 segment.
type Resource struct {
	ID     string               `yaml:"id"`
	Scope  string               `yaml:"scope"`
	Name   string               `yaml:"name"`
	Type   string               `yaml:"type"`
	Prefix string               `yaml:"prefix"`
	MTU    int                  `yaml:"mtu,omitempty"`
	Link   model.LinkProperties `yaml:"link,omitempty"`
}

// Unit is one node and everything needed to start it.
type Unit struct {
	ID            string      `yaml:"id"`
	Scope         string      `yaml:"scope"`
	Kind          string      `yaml:"kind"`
	Name          string      `yaml:"name"`
	Role          string      `yaml:"role"`
	Privileged    bool        `yaml:"privileged,omitempty"`
	Interfaces    []Attach    `yaml:"interfaces,omitempty"`
	Software      []string    `yaml:"software,omitempty,flow"`
	Services      []string    `yaml:"services,omitempty,flow"`
	Files         []string    `yaml:"files,omitempty"`
	BuildCommands []string    `yaml:"build,omitempty"`
	StartCommands []StartLine `yaml:"start,omitempty"`
	Ports         []Port      `yaml:"ports,omitempty"`
}

// Attach is one interface of a unit. Link is the interface's own link
// quality, which starts as its network's default.
type Attach struct {
	Network string               `yaml:"network"`
	Address string               `yaml:"address"`
	Link    model.LinkProperties `yaml:"link,omitempty"`
}

type StartLine struct {
	Command string `yaml:"command"`
	Fork    bool   `yaml:"fork,omitempty"`
}

type Port struct {
	Host     int    `yaml:"host"`
	Node     int    `yaml:"node"`
	Protocol string `yaml:"protocol"`
}

// Option configures a ManifestCompiler.
type Option func(*ManifestCompiler)

// WithSeed records the build seed in the manifest.
func WithSeed(seed uint64) Option {
	return func(c *ManifestCompiler) { c.seed = seed }
}

// WithParallelism bounds the number of units written at once.
func WithParallelism(n int) Option {
	return func(c *ManifestCompiler) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// ManifestCompiler writes manifest.yaml plus a directory per unit holding
// that unit's files under their in-node paths.
type ManifestCompiler struct {
	seed        uint64
	parallelism int
}

// NewManifestCompiler returns a compiler using one writer per CPU.
func NewManifestCompiler(opts ...Option) *ManifestCompiler {
	c := &ManifestCompiler{parallelism: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ManifestCompiler) Name() string { return "manifest" }

// Build assembles the manifest without touching disk. Units and resources
// follow registry order.
func (c *ManifestCompiler) Build(reg *kb.Registry) Manifest {
	m := Manifest{Seed: c.seed}
	for _, key := range reg.Keys() {
		obj, _ := reg.Get(key.Scope, key.Kind, key.Name)
		switch v := obj.(type) {
		case *model.Network:
			m.Networks = append(m.Networks, Resource{
				ID:     unitID(key),
				Scope:  key.Scope,
				Name:   v.Name(),
				Type:   v.Type().String(),
				Prefix: v.Prefix().String(),
				MTU:    v.MTU(),
				Link:   v.LinkProperties(),
			})
		case *model.Node:
			m.Units = append(m.Units, newUnit(key, v))
		}
	}
	return m
}

func newUnit(key kb.Key, n *model.Node) Unit {
	u := Unit{
		ID:            unitID(key),
		Scope:         key.Scope,
		Kind:          key.Kind,
		Name:          key.Name,
		Role:          n.Role().String(),
		Privileged:    n.Privileged(),
		Software:      n.Software(),
		Services:      n.Services(),
		BuildCommands: n.BuildCommands(),
	}
	for _, iface := range n.Interfaces() {
		u.Interfaces = append(u.Interfaces, Attach{
			Network: unitID(kb.Key{Scope: iface.Network().Scope(), Kind: kb.KindNetwork, Name: iface.Name()}),
			Address: iface.PrefixAddress().String(),
			Link:    iface.LinkProperties(),
		})
	}
	for _, f := range n.Files() {
		u.Files = append(u.Files, f.Path)
	}
	for _, sc := range n.StartCommands() {
		u.StartCommands = append(u.StartCommands, StartLine{Command: sc.Command, Fork: sc.Fork})
	}
	for _, p := range n.Ports() {
		u.Ports = append(u.Ports, Port{Host: p.HostPort, Node: p.NodePort, Protocol: p.Protocol})
	}
	return u
}

// unitID flattens a registry key into a name usable as a directory.
func unitID(key kb.Key) string {
	return fmt.Sprintf("%s_%s_%s", key.Scope, key.Kind, key.Name)
}

// Compile writes the manifest and every unit's files under outDir. It logs
// through the logger carried by ctx, if any.
func (c *ManifestCompiler) Compile(ctx context.Context, reg *kb.Registry, outDir string) error {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	m := c.Build(reg)
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, key := range reg.Keys() {
		node, err := kb.GetAs[*model.Node](reg, key.Scope, key.Kind, key.Name)
		if err != nil {
			continue
		}
		dir := filepath.Join(outDir, unitID(key))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files := node.Files()
			if err := writeFiles(dir, files); err != nil {
				return err
			}
			log.Debug(ctx, "unit written", logging.String("unit", filepath.Base(dir)), logging.Int("files", len(files)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info(ctx, "manifest written",
		logging.Int("units", len(m.Units)),
		logging.Int("networks", len(m.Networks)),
	)
	return nil
}

func writeFiles(dir string, files []model.File) error {
	for _, f := range files {
		rel := strings.TrimPrefix(path.Clean("/"+f.Path), "/")
		if rel == "" {
			return fmt.Errorf("%s: invalid file path %q", dir, f.Path)
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
