package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/vqgo/autograd"
	"github.com/hupe1980/vqgo/codec"
)

// quantizeReport is the output of the quantize command.
type quantizeReport struct {
	Shape      []int     `json:"shape"`
	GroupShape []int     `json:"group_shape"`
	Q          []int     `json:"q"`
	D          []float32 `json:"d"`
	Loss       *float32  `json:"loss,omitempty"`
	Output     []float32 `json:"output,omitempty"`
}

func newQuantizeCmd(g *globalFlags) *cobra.Command {
	var (
		input      string
		withOutput bool
		initCodes  bool
		snapshot   saveFlags
	)

	cmd := &cobra.Command{
		Use:   "quantize",
		Short: "Quantize a batch of vectors",
		Long: `Quantize reads a batch {"shape":[B,...,G*F],"data":[...]} and runs one forward pass.

Examples:
  vqgo quantize -c vq.yaml -i batch.json
  vqgo quantize --feature-size 4 --num-codes 16 --init-kmeans -i - < batch.json
  vqgo quantize -c vq.yaml --state vq.vqs --save vq.vqs -i batch.json`,
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
			batch, err := readBatch(cmd, c, input)
			if err != nil {
				return err
			}

			if initCodes {
				if err := vq.InitCodebook(cmd.Context(), batch.Data); err != nil {
					return err
				}
			}

			out, diag, err := vq.Forward(autograd.New(batch.Data, batch.Shape...))
			if err != nil {
				return err
			}

			report := quantizeReport{
				Shape:      out.Shape(),
				GroupShape: diag.Shape,
				Q:          diag.Q,
				D:          diag.D,
			}
			if diag.Loss != nil {
				loss := diag.Loss.Item()
				report.Loss = &loss
			}
			if withOutput {
				report.Output = out.Data
			}
			if err := snapshot.save(cmd, vq); err != nil {
				return err
			}
			return codec.Write(c, cmd.OutOrStdout(), report)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "-", "input batch file (- for stdin)")
	f.BoolVar(&withOutput, "output", false, "include the quantized tensor in the report")
	f.BoolVar(&initCodes, "init-kmeans", false, "initialize the codebook with k-means on the input first")
	snapshot.register(cmd)
	return cmd
}
