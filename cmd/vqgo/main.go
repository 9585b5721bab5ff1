// Command vqgo runs a vector quantizer over tensor batches.
//
//	vqgo quantize --config vq.yaml --input batch.json
//	vqgo codebook --config vq.yaml --init batch.json
//	vqgo version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
