package ui

import (
	"fmt"
	"time"
)

// ETACalculator estimates remaining run time from recent progress samples.
// It keeps the last 10 samples within a 30 second window so the estimate
// follows the current processing rate rather than the whole-run average.
type ETACalculator struct {
	samples       []progressSample
	maxSamples    int
	maxTimeWindow time.Duration
}

type progressSample struct {
	at        time.Time
	processed int64
}

// NewETACalculator creates a calculator with the default sampling window.
func NewETACalculator() *ETACalculator {
	return &ETACalculator{
		maxSamples:    10,
		maxTimeWindow: 30 * time.Second,
	}
}

// Record adds a progress sample and drops samples outside the window.
func (e *ETACalculator) Record(processed int64) {
	now := time.Now()
	e.samples = append(e.samples, progressSample{at: now, processed: processed})

	if len(e.samples) > e.maxSamples {
		e.samples = e.samples[len(e.samples)-e.maxSamples:]
	}

	cutoff := now.Add(-e.maxTimeWindow)
	firstValid := 0
	for i, sample := range e.samples {
		if sample.at.After(cutoff) {
			firstValid = i
			break
		}
	}
	if firstValid > 0 {
		e.samples = e.samples[firstValid:]
	}
}

// Remaining estimates the time to completion. The second return value is
// false until at least two samples with forward progress exist.
func (e *ETACalculator) Remaining(total, processed int64) (time.Duration, bool) {
	if processed >= total {
		return 0, true
	}

	perItem, ok := e.averageTimePerItem()
	if !ok {
		return 0, false
	}

	remaining := total - processed
	return time.Duration(float64(remaining) * perItem.Seconds() * float64(time.Second)), true
}

// Throughput returns the recent processing rate in items per second.
func (e *ETACalculator) Throughput() (float64, bool) {
	perItem, ok := e.averageTimePerItem()
	if !ok {
		return 0, false
	}
	return 1.0 / perItem.Seconds(), true
}

func (e *ETACalculator) averageTimePerItem() (time.Duration, bool) {
	if len(e.samples) < 2 {
		return 0, false
	}

	first := e.samples[0]
	last := e.samples[len(e.samples)-1]

	timeDelta := last.at.Sub(first.at)
	itemsDelta := last.processed - first.processed
	if itemsDelta <= 0 || timeDelta <= 0 {
		return 0, false
	}

	return timeDelta / time.Duration(itemsDelta), true
}

// Reset clears all recorded samples.
func (e *ETACalculator) Reset() {
	e.samples = nil
}

// FormatETA renders an estimate as a compact human-readable string.
func FormatETA(eta time.Duration) string {
	if eta < time.Second {
		return "< 1s"
	}
	if eta < time.Minute {
		return eta.Round(time.Second).String()
	}
	if eta < time.Hour {
		return fmt.Sprintf("%dm%ds", int(eta.Minutes()), int(eta.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(eta.Hours()), int(eta.Minutes())%60)
}

// FormatDuration renders an elapsed duration for summary lines.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
