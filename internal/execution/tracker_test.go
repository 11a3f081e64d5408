package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medofficehq/chargerules/internal/models"
)

func TestTracker_CreateExecution(t *testing.T) {
	tracker := NewTracker()

	executionID := tracker.CreateExecution(100, []int{21, 22}, "Default Project")
	require.NotEmpty(t, executionID)

	progress, ok := tracker.GetProgress(executionID)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionPending, progress.Status)
	assert.Equal(t, 100, progress.Overall.PatientsTotal)
	assert.Equal(t, 2, progress.Overall.RulesTotal)
	assert.Equal(t, 100, progress.Rules[21].PatientsTotal)
	assert.Equal(t, models.ExecutionPending, progress.Rules[21].Status)
}

func TestTracker_PartialProgressAggregation(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(100, []int{21, 22}, "p")
	tracker.StartExecution(executionID)
	tracker.StartRule(executionID, 21)

	tracker.UpdateRuleProgress(executionID, 21, 50)

	progress, ok := tracker.GetProgress(executionID)
	require.True(t, ok)
	assert.Equal(t, 50.0, progress.Rules[21].Percentage)
	assert.Equal(t, 25.0, progress.Overall.Percentage)
	assert.Equal(t, 50, progress.Overall.PatientsProcessed)
	require.NotNil(t, progress.Overall.CurrentRule)
	assert.Equal(t, 21, *progress.Overall.CurrentRule)
}

func TestTracker_ProgressIsMonotonic(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(100, []int{21}, "p")
	tracker.StartExecution(executionID)
	tracker.StartRule(executionID, 21)

	tracker.UpdateRuleProgress(executionID, 21, 60)
	tracker.UpdateRuleProgress(executionID, 21, 40) // ignored

	progress, _ := tracker.GetProgress(executionID)
	assert.Equal(t, 60, progress.Rules[21].PatientsProcessed)

	// Over-counts clamp to total
	tracker.UpdateRuleProgress(executionID, 21, 150)
	progress, _ = tracker.GetProgress(executionID)
	assert.Equal(t, 100, progress.Rules[21].PatientsProcessed)
}

func TestTracker_CompleteRuleAndExecution(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(10, []int{21, 22}, "p")
	tracker.StartExecution(executionID)

	tracker.StartRule(executionID, 21)
	tracker.CompleteRule(executionID, 21)
	tracker.StartRule(executionID, 22)
	tracker.CompleteRule(executionID, 22)
	tracker.CompleteExecution(executionID, true)

	progress, _ := tracker.GetProgress(executionID)
	assert.Equal(t, models.ExecutionCompleted, progress.Status)
	assert.Equal(t, 100.0, progress.Overall.Percentage)
	assert.Equal(t, 2, progress.Overall.RulesCompleted)
	assert.Nil(t, progress.Overall.CurrentRule)
	assert.Equal(t, models.ExecutionCompleted, progress.Rules[21].Status)
	assert.Equal(t, 100.0, progress.Rules[21].Percentage)
}

func TestTracker_SetExecutionError(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(10, []int{21}, "p")
	tracker.StartExecution(executionID)

	tracker.SetExecutionError(executionID, "failed to persist run")

	progress, _ := tracker.GetProgress(executionID)
	assert.Equal(t, models.ExecutionError, progress.Status)
	assert.Equal(t, "failed to persist run", progress.ErrorMessage)
}

func TestTracker_UnknownExecution(t *testing.T) {
	tracker := NewTracker()
	_, ok := tracker.GetProgress("missing")
	assert.False(t, ok)

	// Mutators on unknown ids are no-ops
	tracker.StartExecution("missing")
	tracker.UpdateRuleProgress("missing", 21, 5)
	tracker.CompleteExecution("missing", true)
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(10, []int{21}, "p")

	snapshot, _ := tracker.GetProgress(executionID)
	snapshot.Rules[21] = models.RuleProgress{Percentage: 99.0}

	fresh, _ := tracker.GetProgress(executionID)
	assert.Equal(t, 0.0, fresh.Rules[21].Percentage)
}

func TestTracker_ConcurrentReadersDuringWrites(t *testing.T) {
	tracker := NewTracker()
	executionID := tracker.CreateExecution(1000, []int{21}, "p")
	tracker.StartExecution(executionID)
	tracker.StartRule(executionID, 21)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			tracker.UpdateRuleProgress(executionID, 21, i)
		}
	}()

	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 500; i++ {
			progress, ok := tracker.GetProgress(executionID)
			require.True(t, ok)
			processed := progress.Rules[21].PatientsProcessed
			assert.GreaterOrEqual(t, processed, last)
			last = processed
		}
	}()

	wg.Wait()
}

func TestTracker_PruneOlderThan(t *testing.T) {
	tracker := NewTracker()
	oldID := tracker.CreateExecution(1, []int{21}, "p")
	tracker.StartExecution(oldID)
	tracker.CompleteExecution(oldID, true)

	runningID := tracker.CreateExecution(1, []int{21}, "p")
	tracker.StartExecution(runningID)

	time.Sleep(10 * time.Millisecond)
	pruned := tracker.PruneOlderThan(time.Nanosecond)

	assert.Equal(t, 1, pruned)
	_, ok := tracker.GetProgress(oldID)
	assert.False(t, ok)
	_, ok = tracker.GetProgress(runningID)
	assert.True(t, ok, "non-terminal executions are never pruned")
}
