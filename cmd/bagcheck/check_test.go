package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/tensorcore/backends"
	"github.com/gomlx/tensorcore/backends/cpu"
	"github.com/gomlx/tensorcore/backends/variable"
	"github.com/gomlx/tensorcore/ops"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOps(t *testing.T, config string) (*ops.Ops, *cpu.TypeInit) {
	typeInit := must.M1(cpu.NewWithConfig(config))
	return ops.New(backends.NewRegistry(typeInit, variable.NewHooks())), typeInit
}

func TestRunCheck(t *testing.T) {
	o, _ := newOps(t, "parallelism=2,threshold=16")
	for _, mode := range []backends.EmbeddingBagMode{backends.EmbeddingBagSum, backends.EmbeddingBagMean, backends.EmbeddingBagMax} {
		for _, scaleGradByFreq := range []bool{false, true} {
			for _, sparse := range []bool{false, true} {
				if sparse && mode == backends.EmbeddingBagMax {
					continue
				}
				t.Run(fmt.Sprintf("%s-scale=%v-sparse=%v", mode, scaleGradByFreq, sparse), func(t *testing.T) {
					p := problem{NumWeights: 9, Dim: 3, NumIndices: 40, NumBags: 6,
						Mode: mode, ScaleGradByFreq: scaleGradByFreq, Sparse: sparse}
					var steps int
					result, err := runCheck(o, p, 17, 1e-6, func() { steps++ })
					require.NoError(t, err)
					assert.Equal(t, 27, steps)
					assert.Equal(t, 1+2*27, result.NumEvaluations)
					assert.Equal(t, uintptr(27*8), result.GradientBytes)
					assert.Less(t, result.MaxAbsError, 1e-6)
				})
			}
		}
	}
}

func TestRunCheckErrors(t *testing.T) {
	o, _ := newOps(t, "")
	_, err := runCheck(o, problem{NumWeights: 2, Dim: 1, NumIndices: 2, NumBags: 1, Mode: backends.EmbeddingBagMax, Sparse: true}, 0, 1e-6, nil)
	require.ErrorIs(t, err, backends.ErrInvalidMode)
	_, err = runCheck(o, problem{NumWeights: 0, Dim: 1, NumIndices: 2, NumBags: 1}, 0, 1e-6, nil)
	require.Error(t, err)
	_, err = runCheck(o, problem{NumWeights: 2, Dim: 1, NumIndices: 2, NumBags: 1}, 0, 0, nil)
	require.Error(t, err)
}

func TestReport(t *testing.T) {
	_, typeInit := newOps(t, "parallelism=3,threshold=1000")
	p := problem{NumWeights: 1200, Dim: 4, NumIndices: 10, NumBags: 2, Mode: backends.EmbeddingBagMean}
	out := report(p, typeInit, checkResult{MaxAbsError: 1e-3, WorstElement: 6, NumEvaluations: 9601, GradientBytes: 38400},
		1e-5, false)
	for _, want := range []string{"EmbeddingBag gradient check", "[1,200, 4]", "mean", "9,601", "38 kB",
		"weight[1, 2]", "FAILED", "1,000"} {
		assert.Truef(t, strings.Contains(out, want), "report missing %q:\n%s", want, out)
	}
}
