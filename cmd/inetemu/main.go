// Command inetemu compiles a topology description into emulation artifacts.
package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/inetemu/compiler"
	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/internal/config"
	"github.com/signalsfoundry/inetemu/internal/logging"
	"github.com/signalsfoundry/inetemu/internal/observability"
	"github.com/signalsfoundry/inetemu/topology"
)

// version is set at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd(filepath.Base(os.Args[0]), os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if core.IsConfigurationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd(executable string, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   executable,
		Short: "Internet emulation topology compiler",
		Args:  cobra.NoArgs,
		// Errors are printed by main.
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.AddCommand(newBuildCmd(), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the inetemu version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "inetemu %s\n", version)
			return err
		},
	}
}

func newBuildCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "build [topology.yaml]",
		Short: "Render a topology and write its artifacts",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set(config.KeyTopology, args[0])
			}
			return config.BindFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.Topology == "" {
				return fmt.Errorf("%w: no topology given", config.ErrInvalid)
			}
			cmd.SilenceUsage = true

			log := logging.New(cfg.Log)
			return run(cmd.Context(), cfg, seedOverride(v), log, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.String(config.KeyConfigFile, "", "config file (yaml, json or toml)")
	fs.String(config.KeyTopology, "", "topology description")
	fs.StringP(config.KeyOutDir, "o", "output", "output directory")
	fs.Uint64(config.KeySeed, 0, "random seed; overrides the description's seed")
	fs.String(config.KeyMetricsFile, "", "write build metrics in Prometheus text format to this file")
	fs.String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	fs.String(config.KeyLogFormat, "text", "log format (text or json)")
	fs.Bool(config.KeyTracingEnabled, false, "export build traces")
	fs.String(config.KeyTracingExport, "stdout", "trace exporter (stdout or otlp)")
	fs.String(config.KeyTracingAddr, "", "OTLP collector endpoint")
	return cmd
}

// seedOverride reports the seed set outside the description, if any.
func seedOverride(v *viper.Viper) *uint64 {
	if !v.IsSet(config.KeySeed) {
		return nil
	}
	seed := v.GetUint64(config.KeySeed)
	if seed == 0 {
		return nil
	}
	return &seed
}

// run renders the description in cfg and compiles it into cfg.OutDir.
func run(ctx context.Context, cfg config.Config, seed *uint64, log logging.Logger, out io.Writer) error {
	ctx, log = logging.WithBuildLogger(ctx, log)

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewBuildCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if cfg.MetricsFile == "" {
			return
		}
		if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn(ctx, "writing metrics failed", logging.String("path", cfg.MetricsFile), logging.Err(err))
		}
	}()

	topo, err := topology.LoadFile(cfg.Topology)
	if err != nil {
		return err
	}
	opts := []core.Option{core.WithLogger(log), core.WithMetricsRecorder(collector)}
	if seed != nil {
		opts = append(opts, core.WithRandSeed(*seed))
	}
	emu, err := topo.Build(opts...)
	if err != nil {
		return err
	}
	if err := emu.Render(ctx); err != nil {
		return err
	}
	c := compiler.NewManifestCompiler(compiler.WithSeed(emu.Seed()))
	if err := emu.Compile(ctx, c, cfg.OutDir); err != nil {
		return err
	}

	printSummary(out, emu, cfg.OutDir)
	return nil
}

func printSummary(w io.Writer, emu *core.Emulator, outDir string) {
	counts := emu.Registry().CountByKind()
	kinds := slices.Sorted(maps.Keys(counts))
	rows := make([][]string, 0, len(kinds))
	for _, kind := range kinds {
		rows = append(rows, []string{kind, strconv.Itoa(counts[kind])})
	}

	fmt.Fprintf(w, "Rendered %d layers into %s (seed %d)\n", len(emu.RenderOrder()), outDir, emu.Seed())
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"KIND", "COUNT"})
	table.AppendBulk(rows)
	table.Render()
}
