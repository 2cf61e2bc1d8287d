// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// progressBar reports the finite differences evaluations. A nil progressBar is a no-op.
type progressBar struct {
	bar *progressbar.ProgressBar
}

func newProgressBar(numSteps int) *progressBar {
	return &progressBar{
		bar: progressbar.NewOptions(numSteps,
			progressbar.OptionSetDescription("finite differences"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("elements"),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Step marks one more weight element evaluated.
func (p *progressBar) Step() {
	if p == nil {
		return
	}
	if err := p.bar.Add(1); err != nil {
		klog.V(1).Infof("progress bar: %v", err)
	}
}

// Finish clears the progress bar.
func (p *progressBar) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}
