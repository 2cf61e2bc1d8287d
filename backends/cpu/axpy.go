// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/tensorcore/types/shapes"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// axpy computes y[yStart+i*incY] += alpha * x[xStart+i*incX], for i in [0, n).
//
// Float32 and Float64 use gonum's BLAS, the half precision types accumulate in float32.
func axpy[T shapes.Float](n int, alpha float64, x []T, xStart, incX int, y []T, yStart, incY int) {
	if n <= 0 {
		return
	}
	if n == 1 {
		// Increments are irrelevant, and BLAS rejects 0 increments.
		incX, incY = 1, 1
	}
	switch xFlat := any(x).(type) {
	case []float32:
		yFlat := any(y).([]float32)
		blas32.Axpy(float32(alpha),
			blas32.Vector{N: n, Inc: incX, Data: xFlat[xStart : xStart+(n-1)*incX+1]},
			blas32.Vector{N: n, Inc: incY, Data: yFlat[yStart : yStart+(n-1)*incY+1]})
	case []float64:
		yFlat := any(y).([]float64)
		blas64.Axpy(alpha,
			blas64.Vector{N: n, Inc: incX, Data: xFlat[xStart : xStart+(n-1)*incX+1]},
			blas64.Vector{N: n, Inc: incY, Data: yFlat[yStart : yStart+(n-1)*incY+1]})
	default:
		alpha32 := float32(alpha)
		for ii := range n {
			xi := float32(shapes.ToFloat64(x[xStart+ii*incX]))
			yi := float32(shapes.ToFloat64(y[yStart+ii*incY]))
			y[yStart+ii*incY] = shapes.FromFloat64[T](float64(yi + alpha32*xi))
		}
	}
}

// scaleRow computes x[start+i] /= divisor, for i in [0, n).
func scaleRow[T shapes.Float](x []T, start, n int, divisor float64) {
	switch flat := any(x).(type) {
	case []float32:
		d := float32(divisor)
		for ii := start; ii < start+n; ii++ {
			flat[ii] /= d
		}
	case []float64:
		for ii := start; ii < start+n; ii++ {
			flat[ii] /= divisor
		}
	default:
		d := float32(divisor)
		for ii := start; ii < start+n; ii++ {
			x[ii] = shapes.FromFloat64[T](float64(float32(shapes.ToFloat64(x[ii])) / d))
		}
	}
}
