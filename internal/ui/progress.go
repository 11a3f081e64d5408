// Package ui renders execution progress on the terminal.
package ui

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// RunBar visualizes one execution's progress: percentage, processed patient
// count, and an ETA derived from recent throughput.
type RunBar struct {
	bar       *progressbar.ProgressBar
	eta       *ETACalculator
	total     int64
	startTime time.Time
}

// NewRunBar creates a progress bar over the total patient-work units of a
// run. Updates are throttled so polling loops can call Update freely.
func NewRunBar(total int64, description string) *RunBar {
	return newRunBar(total, description, os.Stderr)
}

// NewRunBarWithWriter renders to a specific writer, used by tests.
func NewRunBarWithWriter(total int64, description string, writer io.Writer) *RunBar {
	return newRunBar(total, description, writer)
}

func newRunBar(total int64, description string, writer io.Writer) *RunBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(250*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &RunBar{
		bar:       bar,
		eta:       NewETACalculator(),
		total:     total,
		startTime: time.Now(),
	}
}

// Update sets the processed count and records a throughput sample.
func (b *RunBar) Update(processed int64) error {
	b.eta.Record(processed)
	return b.bar.Set64(processed)
}

// ETA returns the estimated time to completion based on recent samples.
func (b *RunBar) ETA(processed int64) (time.Duration, bool) {
	return b.eta.Remaining(b.total, processed)
}

// Finish fills and completes the bar.
func (b *RunBar) Finish() error {
	return b.bar.Finish()
}

// Clear removes the bar from the terminal.
func (b *RunBar) Clear() error {
	return b.bar.Clear()
}

// Elapsed returns the time since the bar was created.
func (b *RunBar) Elapsed() time.Duration {
	return time.Since(b.startTime)
}
