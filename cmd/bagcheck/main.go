// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// bagcheck builds a random EmbeddingBag problem, runs its forward and backward passes on the CPU
// types, and compares the analytic gradient of the weight with central finite differences.
//
// It exits with a non-zero status if the maximum absolute error is above -tolerance.
//
//	bagcheck -mode=mean -weights=100 -dim=16 -indices=400 -bags=32 -config="parallelism=4,threshold=100"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/backends/cpu"
	"github.com/gomlx/tensorcore/backends/variable"
	"github.com/gomlx/tensorcore/ops"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagWeights   = flag.Int("weights", 50, "Number of rows of the embedding table.")
	flagDim       = flag.Int("dim", 8, "Embedding dimension.")
	flagIndices   = flag.Int("indices", 200, "Total number of indices, over all bags.")
	flagBags      = flag.Int("bags", 16, "Number of bags.")
	flagMode      = flag.String("mode", "sum", "Reduction mode: sum, mean or max.")
	flagScaleGrad = flag.Bool("scale_grad", false, "Scale the gradient by the inverse frequency of the indices.")
	flagSparse    = flag.Bool("sparse", false, "Compute a sparse gradient. Not supported with -mode=max.")
	flagSeed      = flag.Uint64("seed", 42, "Random seed used to generate the problem.")
	flagEpsilon   = flag.Float64("epsilon", 1e-6, "Step of the central finite differences.")
	flagTolerance = flag.Float64("tolerance", 1e-5, "Maximum absolute error accepted.")
	flagConfig    = flag.String("config", "", "Configuration of the cpu type library, e.g. \"parallelism=4,threshold=1000\".")
	flagProgress  = flag.Bool("progress", true, "Display a progress bar while evaluating the finite differences.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'bagcheck -help'.", flag.Args())
		os.Exit(1)
	}

	mode, err := backends.ParseEmbeddingBagMode(*flagMode)
	if err != nil {
		klog.Errorf("Invalid -mode: %+v", err)
		os.Exit(1)
	}
	p := problem{
		NumWeights:      *flagWeights,
		Dim:             *flagDim,
		NumIndices:      *flagIndices,
		NumBags:         *flagBags,
		Mode:            mode,
		ScaleGradByFreq: *flagScaleGrad,
		Sparse:          *flagSparse,
	}
	if err := p.Validate(); err != nil {
		klog.Errorf("Invalid problem: %v", err)
		os.Exit(1)
	}

	typeInit := must.M1(cpu.NewWithConfig(*flagConfig))
	o := ops.New(backends.NewRegistry(typeInit, variable.NewHooks()))
	var bar *progressBar
	if *flagProgress {
		bar = newProgressBar(p.NumWeights * p.Dim)
	}
	result, err := runCheck(o, p, *flagSeed, *flagEpsilon, bar.Step)
	bar.Finish()
	if err != nil {
		klog.Errorf("Check failed: %+v", err)
		os.Exit(1)
	}
	passed := result.MaxAbsError <= *flagTolerance
	fmt.Println(report(p, typeInit, result, *flagTolerance, passed))
	if !passed {
		os.Exit(1)
	}
}
