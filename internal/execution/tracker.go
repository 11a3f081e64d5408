// Package execution contains the run orchestrator and its progress tracker.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medofficehq/chargerules/internal/models"
)

// Tracker holds pollable progress state for running executions. Only the
// owning orchestrator goroutine mutates a given execution's entry; any
// number of readers may call GetProgress concurrently.
type Tracker struct {
	mu         sync.RWMutex
	executions map[string]*models.ProgressState
	now        func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		executions: make(map[string]*models.ProgressState),
		now:        time.Now,
	}
}

// CreateExecution registers a pending execution sized to the patient set
// and returns its id.
func (t *Tracker) CreateExecution(totalPatients int, ruleIDs []int, projectName string) string {
	executionID := uuid.NewString()
	now := t.now().UTC()

	rules := make(map[int]models.RuleProgress, len(ruleIDs))
	for _, id := range ruleIDs {
		rules[id] = models.RuleProgress{
			Status:        models.ExecutionPending,
			PatientsTotal: totalPatients,
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[executionID] = &models.ProgressState{
		ExecutionID: executionID,
		ProjectName: projectName,
		Status:      models.ExecutionPending,
		Overall: models.OverallProgress{
			PatientsTotal: totalPatients,
			RulesTotal:    len(ruleIDs),
		},
		Rules:     rules,
		StartedAt: now,
		UpdatedAt: now,
	}
	return executionID
}

// StartExecution transitions an execution to running.
func (t *Tracker) StartExecution(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok || !state.Status.CanTransitionTo(models.ExecutionRunning) {
		return
	}
	state.Status = models.ExecutionRunning
	state.UpdatedAt = t.now().UTC()
}

// StartRule marks one rule as running and sets it as the current rule.
func (t *Tracker) StartRule(executionID string, ruleID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok {
		return
	}
	progress, ok := state.Rules[ruleID]
	if !ok {
		return
	}

	progress.Status = models.ExecutionRunning
	state.Rules[ruleID] = progress

	current := ruleID
	state.Overall.CurrentRule = &current
	state.UpdatedAt = t.now().UTC()
}

// UpdateRuleProgress records the running total of processed patients for
// one rule. Decreases are ignored; processed counts are monotonic within
// an execution.
func (t *Tracker) UpdateRuleProgress(executionID string, ruleID int, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok {
		return
	}
	progress, ok := state.Rules[ruleID]
	if !ok {
		return
	}

	if processed < progress.PatientsProcessed {
		return
	}
	if processed > progress.PatientsTotal {
		processed = progress.PatientsTotal
	}

	progress.PatientsProcessed = processed
	progress.Percentage = models.RulePercentage(processed, progress.PatientsTotal)
	state.Rules[ruleID] = progress

	t.recalculateOverall(state)
	state.UpdatedAt = t.now().UTC()
}

// CompleteRule marks one rule finished, forcing its progress to 100%.
func (t *Tracker) CompleteRule(executionID string, ruleID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok {
		return
	}
	progress, ok := state.Rules[ruleID]
	if !ok {
		return
	}

	progress.Status = models.ExecutionCompleted
	progress.PatientsProcessed = progress.PatientsTotal
	progress.Percentage = 100.0
	state.Rules[ruleID] = progress

	state.Overall.RulesCompleted++
	t.recalculateOverall(state)
	state.UpdatedAt = t.now().UTC()
}

// FailRule marks one rule as failed without touching its progress counts.
func (t *Tracker) FailRule(executionID string, ruleID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok {
		return
	}
	progress, ok := state.Rules[ruleID]
	if !ok {
		return
	}

	progress.Status = models.ExecutionError
	state.Rules[ruleID] = progress
	state.UpdatedAt = t.now().UTC()
}

// CompleteExecution marks the execution terminal. Success forces overall
// progress to 100%.
func (t *Tracker) CompleteExecution(executionID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok || state.Status.IsTerminal() {
		return
	}

	if success {
		state.Status = models.ExecutionCompleted
		t.recalculateOverall(state)
		state.Overall.Percentage = 100.0
	} else {
		state.Status = models.ExecutionError
	}
	state.Overall.CurrentRule = nil
	state.UpdatedAt = t.now().UTC()
}

// SetExecutionError marks the execution failed with a message.
func (t *Tracker) SetExecutionError(executionID string, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.executions[executionID]
	if !ok {
		return
	}

	state.Status = models.ExecutionError
	state.ErrorMessage = message
	state.Overall.CurrentRule = nil
	state.UpdatedAt = t.now().UTC()
}

// GetProgress returns a consistent snapshot of one execution's progress.
// Unknown ids return false.
func (t *Tracker) GetProgress(executionID string) (*models.ProgressState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.executions[executionID]
	if !ok {
		return nil, false
	}

	snapshot := models.CloneProgressState(*state)
	return &snapshot, true
}

// PruneOlderThan removes terminal executions last updated before the
// cutoff, bounding tracker memory on long-lived processes.
func (t *Tracker) PruneOlderThan(age time.Duration) int {
	cutoff := t.now().Add(-age)

	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, state := range t.executions {
		if state.Status.IsTerminal() && state.UpdatedAt.Before(cutoff) {
			delete(t.executions, id)
			pruned++
		}
	}
	return pruned
}

// recalculateOverall recomputes aggregate progress. Overall processed is
// the sum across rules; overall percentage is the mean of rule percentages.
// Caller holds the lock.
func (t *Tracker) recalculateOverall(state *models.ProgressState) {
	processed := 0
	for _, progress := range state.Rules {
		processed += progress.PatientsProcessed
	}
	state.Overall.PatientsProcessed = processed
	state.Overall.Percentage = models.OverallPercentage(state.Rules)
}
