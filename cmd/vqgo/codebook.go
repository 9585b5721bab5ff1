package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/vqgo/affine"
	"github.com/hupe1980/vqgo/codec"
)

type codebookReport struct {
	NumCodes    int            `json:"num_codes"`
	FeatureSize int            `json:"feature_size"`
	Codes       [][]float32    `json:"codes"`
	Affine      *affine.Params `json:"affine,omitempty"`
}

func newCodebookCmd(g *globalFlags) *cobra.Command {
	var (
		initPath string
		snapshot saveFlags
	)

	cmd := &cobra.Command{
		Use:   "codebook",
		Short: "Print the codebook",
		Long: `Codebook prints the codes of a configured quantizer, restored from --state if given.

With --init the codes are fitted with k-means to the given batch.

Examples:
  vqgo codebook -c vq.yaml
  vqgo codebook -c vq.yaml --init batch.json --save vq.vqs
  vqgo codebook -c vq.yaml --state vq.vqs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.codec()
			if err != nil {
				return err
			}
			vq, err := g.newQuantizer(cmd)
			if err != nil {
				return err
			}

			if initPath != "" {
				batch, err := readBatch(cmd, c, initPath)
				if err != nil {
					return err
				}
				if err := vq.InitCodebook(cmd.Context(), batch.Data); err != nil {
					return err
				}
			}

			report := codebookReport{
				NumCodes:    vq.NumCodes(),
				FeatureSize: vq.FeatureSize(),
				Codes:       vq.Codebook(),
			}
			if params, ok := vq.AffineParams(); ok {
				report.Affine = params
			}
			if err := snapshot.save(cmd, vq); err != nil {
				return err
			}
			return codec.Write(c, cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&initPath, "init", "", "batch file for k-means initialization (- for stdin)")
	snapshot.register(cmd)
	return cmd
}
