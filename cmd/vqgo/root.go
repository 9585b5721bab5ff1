package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vqgo"
	"github.com/hupe1980/vqgo/codec"
	"github.com/hupe1980/vqgo/persistence"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are shared by all subcommands.
type globalFlags struct {
	configPath  string
	featureSize int
	numCodes    int
	seed        int64
	codecName   string
	statePath   string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "vqgo",
		Short:         "vqgo - vector quantization from the command line",
		Long:          `vqgo assigns vectors to the codes of a learnable codebook and reports codes, distances and loss.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML quantizer configuration")
	pf.IntVar(&g.featureSize, "feature-size", 0, "feature size (overrides config)")
	pf.IntVar(&g.numCodes, "num-codes", 0, "number of codes (overrides config)")
	pf.Int64Var(&g.seed, "seed", 0, "random seed (overrides config)")
	pf.StringVar(&g.codecName, "codec", "go-json", "codec for input and output (json, go-json)")
	pf.StringVar(&g.statePath, "state", "", "snapshot to restore the quantizer from")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newQuantizeCmd(g),
		newCodebookCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the YAML config, if any, on top of the defaults and
// applies flag overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (vqgo.Config, error) {
	cfg := vqgo.DefaultConfig()

	if g.configPath != "" {
		data, err := os.ReadFile(g.configPath)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", g.configPath, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("feature-size") {
		cfg.FeatureSize = g.featureSize
	}
	if flags.Changed("num-codes") {
		cfg.NumCodes = g.numCodes
	}
	if flags.Changed("seed") {
		cfg.Seed = g.seed
	}

	return cfg, cfg.Validate()
}

func (g *globalFlags) codec() (codec.Codec, error) {
	c, ok := codec.ByName(g.codecName)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", g.codecName)
	}
	return c, nil
}

func (g *globalFlags) newQuantizer(cmd *cobra.Command) (*vqgo.VectorQuant, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	var opts []vqgo.Option
	if g.verbose {
		opts = append(opts, vqgo.WithLogger(vqgo.NewLogger(
			slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}),
		)))
	}
	vq, err := vqgo.NewFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if g.statePath != "" {
		state, err := persistence.LoadFile(g.statePath)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if err := vq.Restore(state); err != nil {
			return nil, err
		}
	}
	return vq, nil
}

// saveFlags are the snapshot flags of commands that can persist state.
type saveFlags struct {
	path        string
	compression string
	rate        int
}

func (s *saveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.path, "save", "", "write a state snapshot to this path")
	cmd.Flags().StringVar(&s.compression, "compression", "zstd", "snapshot compression (none, lz4, zstd)")
	cmd.Flags().IntVar(&s.rate, "save-rate", 0, "snapshot write limit in bytes per second (0 = unlimited)")
}

// save writes the quantizer state when --save is set.
func (s *saveFlags) save(cmd *cobra.Command, vq *vqgo.VectorQuant) error {
	if s.path == "" {
		return nil
	}
	c, err := persistence.ParseCompression(s.compression)
	if err != nil {
		return err
	}
	return persistence.SaveFile(cmd.Context(), s.path, vq.State(), c, persistence.WithRateLimit(s.rate))
}

// openInput opens path for reading; "-" is stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}

func readBatch(cmd *cobra.Command, c codec.Codec, path string) (*codec.Batch, error) {
	r, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return codec.ReadBatch(c, r)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vqgo version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vqgo", version)
		},
	}
}
