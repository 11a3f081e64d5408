package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestETACalculator_NeedsTwoSamples(t *testing.T) {
	eta := NewETACalculator()

	_, ok := eta.Remaining(100, 0)
	assert.False(t, ok)

	eta.Record(0)
	_, ok = eta.Remaining(100, 0)
	assert.False(t, ok)
}

func TestETACalculator_EstimatesFromRate(t *testing.T) {
	eta := NewETACalculator()

	eta.Record(0)
	time.Sleep(20 * time.Millisecond)
	eta.Record(10)

	remaining, ok := eta.Remaining(20, 10)
	require.True(t, ok)
	assert.Greater(t, remaining, time.Duration(0))

	throughput, ok := eta.Throughput()
	require.True(t, ok)
	assert.Greater(t, throughput, 0.0)
}

func TestETACalculator_CompleteMeansZero(t *testing.T) {
	eta := NewETACalculator()
	remaining, ok := eta.Remaining(10, 10)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestETACalculator_NoProgressIsInvalid(t *testing.T) {
	eta := NewETACalculator()
	eta.Record(5)
	time.Sleep(5 * time.Millisecond)
	eta.Record(5)

	_, ok := eta.Remaining(10, 5)
	assert.False(t, ok)
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "< 1s", FormatETA(500*time.Millisecond))
	assert.Equal(t, "30s", FormatETA(30*time.Second))
	assert.Equal(t, "2m30s", FormatETA(150*time.Second))
	assert.Equal(t, "1h30m", FormatETA(90*time.Minute))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "5s", FormatDuration(5200*time.Millisecond))
}

func TestRunBar_UpdateAndFinish(t *testing.T) {
	var buf bytes.Buffer
	bar := NewRunBarWithWriter(10, "executing rules", &buf)

	require.NoError(t, bar.Update(5))
	require.NoError(t, bar.Finish())

	assert.NotEmpty(t, buf.String())
	assert.GreaterOrEqual(t, bar.Elapsed(), time.Duration(0))
}
