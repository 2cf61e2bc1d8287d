// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/ops"
	"github.com/gomlx/tensorcore/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// problem describes a random EmbeddingBag problem.
type problem struct {
	NumWeights, Dim, NumIndices, NumBags int
	Mode                                 backends.EmbeddingBagMode
	ScaleGradByFreq, Sparse              bool
}

// Validate the problem sizes and options.
func (p problem) Validate() error {
	if p.NumWeights <= 0 || p.Dim <= 0 || p.NumBags <= 0 || p.NumIndices < 0 {
		return errors.Errorf("weights (%d), dim (%d) and bags (%d) must be positive, and indices (%d) non-negative",
			p.NumWeights, p.Dim, p.NumBags, p.NumIndices)
	}
	if !p.Mode.IsValid() {
		return errors.Wrapf(backends.ErrInvalidMode, "mode %s", p.Mode)
	}
	if p.Sparse && p.Mode == backends.EmbeddingBagMax {
		return errors.Wrapf(backends.ErrInvalidMode, "mode %s doesn't support sparse gradients", p.Mode)
	}
	return nil
}

// inputs are the tensors of an instance of the problem. The gradient of the loss
// sum(EmbeddingBag(weight) * outputGrad) with respect to weight is the EmbeddingBag backward of outputGrad.
type inputs struct {
	weight, indices, offsets, outputGrad *tensors.Tensor
}

// generate random inputs for the problem. Offsets are sorted random positions, so bags can be empty.
func (p problem) generate(rng *rand.Rand) inputs {
	weight := make([]float64, p.NumWeights*p.Dim)
	for ii := range weight {
		weight[ii] = rng.NormFloat64()
	}
	indices := make([]int64, p.NumIndices)
	for ii := range indices {
		indices[ii] = rng.Int64N(int64(p.NumWeights))
	}
	offsets := make([]int64, p.NumBags)
	for ii := 1; ii < p.NumBags; ii++ {
		offsets[ii] = rng.Int64N(int64(p.NumIndices) + 1)
	}
	slices.Sort(offsets)
	outputGrad := make([]float64, p.NumBags*p.Dim)
	for ii := range outputGrad {
		outputGrad[ii] = rng.NormFloat64()
	}
	return inputs{
		weight:     tensors.FromFlatDataAndDimensions(weight, p.NumWeights, p.Dim).SetRequiresGrad(true),
		indices:    tensors.FromFlatDataAndDimensions(indices, p.NumIndices),
		offsets:    tensors.FromFlatDataAndDimensions(offsets, p.NumBags),
		outputGrad: tensors.FromFlatDataAndDimensions(outputGrad, p.NumBags, p.Dim),
	}
}

// checkResult summarizes a gradient check.
type checkResult struct {
	MaxAbsError    float64
	WorstElement   int
	NumEvaluations int
	GradientBytes  uintptr
	Elapsed        time.Duration
}

// runCheck generates the problem with the given seed, and compares the analytic gradient with
// central finite differences of step epsilon. onStep, if not nil, is called after each weight
// element is evaluated.
//
// With ScaleGradByFreq (and a non-MAX mode), the analytic gradient of a row is expected to be the
// finite differences divided by the frequency of the row's index.
func runCheck(o *ops.Ops, p problem, seed uint64, epsilon float64, onStep func()) (result checkResult, err error) {
	if err = p.Validate(); err != nil {
		return
	}
	if epsilon <= 0 {
		err = errors.Errorf("epsilon must be positive, got %g", epsilon)
		return
	}
	start := time.Now()
	in := p.generate(rand.New(rand.NewPCG(seed, 0)))

	fwd, err := o.EmbeddingBag(in.weight, in.indices, in.offsets, p.ScaleGradByFreq, p.Mode, p.Sparse)
	if err != nil {
		return
	}
	result.NumEvaluations++
	gradWeight, err := o.EmbeddingBagBackward(in.outputGrad, in.indices, in.offsets, fwd.Offset2Bag, fwd.BagSize,
		fwd.MaxIndices(), p.NumWeights, p.ScaleGradByFreq, p.Mode, p.Sparse)
	if err != nil {
		return
	}
	if p.Sparse != gradWeight.IsSparse() {
		err = errors.Errorf("expected sparse=%v gradient, got backend %s", p.Sparse, gradWeight.Backend())
		return
	}
	analytic := tensors.FlatData[float64](gradWeight.ToDense())
	result.GradientBytes = gradWeight.ToDense().Shape().Memory()

	var counts []float64
	if p.ScaleGradByFreq && p.Mode != backends.EmbeddingBagMax {
		counts = make([]float64, p.NumWeights)
		for _, index := range tensors.FlatData[int64](in.indices) {
			counts[index]++
		}
	}

	loss := func() (float64, error) {
		r, err := o.EmbeddingBag(in.weight, in.indices, in.offsets, p.ScaleGradByFreq, p.Mode, p.Sparse)
		if err != nil {
			return 0, err
		}
		result.NumEvaluations++
		out := tensors.FlatData[float64](r.Output)
		grad := tensors.FlatData[float64](in.outputGrad)
		var sum float64
		for ii := range out {
			sum += out[ii] * grad[ii]
		}
		return sum, nil
	}

	weight := tensors.FlatData[float64](in.weight)
	for ii := range weight {
		original := weight[ii]
		weight[ii] = original + epsilon
		plus, err := loss()
		if err != nil {
			return result, err
		}
		weight[ii] = original - epsilon
		minus, err := loss()
		if err != nil {
			return result, err
		}
		weight[ii] = original

		numeric := (plus - minus) / (2 * epsilon)
		if row := ii / p.Dim; counts != nil && counts[row] > 0 {
			numeric /= counts[row]
		}
		if absErr := math.Abs(numeric - analytic[ii]); absErr > result.MaxAbsError {
			result.MaxAbsError = absErr
			result.WorstElement = ii
		}
		if onStep != nil {
			onStep()
		}
	}
	result.Elapsed = time.Since(start)
	klog.V(1).Infof("checked %d weight elements in %s, max abs error %g", len(weight), result.Elapsed, result.MaxAbsError)
	return
}
