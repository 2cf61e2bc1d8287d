// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/tensorcore/backends/cpu"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	rowStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	failStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// report renders the check result as a table. The status row is highlighted if the check failed.
func report(p problem, typeInit *cpu.TypeInit, result checkResult, tolerance float64, passed bool) string {
	status := "passed"
	if !passed {
		status = "FAILED"
	}
	rows := [][]string{
		{"weight", fmt.Sprintf("[%s, %d]", humanize.Comma(int64(p.NumWeights)), p.Dim)},
		{"# indices", humanize.Comma(int64(p.NumIndices))},
		{"# bags", humanize.Comma(int64(p.NumBags))},
		{"mode", p.Mode.String()},
		{"scale_grad_by_freq", fmt.Sprint(p.ScaleGradByFreq)},
		{"sparse", fmt.Sprint(p.Sparse)},
		{"parallelism", fmt.Sprint(typeInit.MaxParallelism())},
		{"parallel threshold", humanize.Comma(int64(typeInit.ParallelThreshold()))},
		{"# forward evaluations", humanize.Comma(int64(result.NumEvaluations))},
		{"gradient memory", humanize.Bytes(uint64(result.GradientBytes))},
		{"elapsed", result.Elapsed.String()},
		{"max abs error", fmt.Sprintf("%.3g (weight[%d, %d])", result.MaxAbsError, result.WorstElement/p.Dim, result.WorstElement%p.Dim)},
		{"tolerance", fmt.Sprintf("%.3g", tolerance)},
		{"status", status},
	}
	statusRow := len(rows) - 1
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			s = rowStyle
			if row == statusRow && !passed {
				s = failStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		}).
		Rows(rows...)
	return titleStyle.Render("EmbeddingBag gradient check") + "\n" + table.Render()
}
