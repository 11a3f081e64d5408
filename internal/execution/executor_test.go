package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
	"github.com/medofficehq/chargerules/internal/rules"
	"github.com/medofficehq/chargerules/internal/services"
)

// stubEngine returns a fixed status for every patient, or panics on demand.
type stubEngine struct {
	id       int
	status   models.OutcomeStatus
	reason   string
	panics   bool
	panicOn  string // patient id that triggers a panic mid-run
	rollback func(models.PatientCase) models.RuleOutcome
}

func (s *stubEngine) ID() int      { return s.id }
func (s *stubEngine) Name() string { return fmt.Sprintf("stub rule %d", s.id) }

func (s *stubEngine) Run(ctx context.Context, patient models.PatientCase, addModifiers bool) models.RuleOutcome {
	if s.panics || (s.panicOn != "" && s.panicOn == patient.PatientID) {
		panic("stub engine failure")
	}
	return models.RuleOutcome{
		RuleID:        s.id,
		PatientID:     patient.PatientID,
		AppointmentID: patient.AppointmentID,
		Status:        s.status,
		Reason:        s.reason,
	}
}

func (s *stubEngine) Rollback(ctx context.Context, patient models.PatientCase) models.RuleOutcome {
	if s.rollback != nil {
		return s.rollback(patient)
	}
	return models.RuleOutcome{
		RuleID:        s.id,
		PatientID:     patient.PatientID,
		AppointmentID: patient.AppointmentID,
		Status:        models.StatusChangesMade,
		Reason:        "rolled back",
	}
}

func makePatients(n int) []models.PatientCase {
	patients := make([]models.PatientCase, 0, n)
	for i := 0; i < n; i++ {
		patients = append(patients, models.PatientCase{
			PatientID:       fmt.Sprintf("p-%d", i),
			AppointmentID:   fmt.Sprintf("a-%d", i),
			AppointmentDate: "01/15/2020",
		})
	}
	return patients
}

func newTestExecutor(store services.ResultStore, engines ...rules.Engine) *Executor {
	registry := rules.NewRegistry(engines...)
	config := models.ExecutionConfig{BatchSize: 10, BatchPauseMs: 0}
	return NewExecutor(registry, store, NewTracker(), config, lib.NewTestLogger())
}

func waitForTerminal(t *testing.T, executor *Executor, executionID string) *models.ProgressState {
	t.Helper()
	var progress *models.ProgressState
	require.Eventually(t, func() bool {
		state, ok := executor.Tracker().GetProgress(executionID)
		if !ok || !state.Status.IsTerminal() {
			return false
		}
		progress = state
		return true
	}, 5*time.Second, 5*time.Millisecond)

	// The result cache write follows the terminal tracker update
	require.Eventually(t, func() bool {
		_, err := executor.Result(context.Background(), executionID)
		return err == nil || progress.Status == models.ExecutionError
	}, 5*time.Second, 5*time.Millisecond)

	return progress
}

func TestExecutor_Submit_ValidationFailsSynchronously(t *testing.T) {
	executor := newTestExecutor(services.NewMemoryStore(), &stubEngine{id: 21, status: models.StatusChangesMade})

	_, err := executor.Submit(models.RunRequest{Rules: []int{21}})
	require.Error(t, err)
	assert.True(t, lib.IsValidationError(err))
	assert.Contains(t, err.Error(), "no patients specified in request")

	_, err = executor.Submit(models.RunRequest{Patients: makePatients(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules specified in request")
}

func TestExecutor_OneOutcomePerPatientPerRule(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store,
		&stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"},
		&stubEngine{id: 22, status: models.StatusConditionNotMet, reason: "no target procedure codes found"},
	)

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21, 22},
		Patients: makePatients(25),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, submitted.ProjectID)

	progress := waitForTerminal(t, executor, submitted.ExecutionID)
	assert.Equal(t, models.ExecutionCompleted, progress.Status)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 2, run.TotalRulesExecuted)
	assert.Empty(t, run.RulesWithErrors)
	require.Len(t, run.Results, 25)

	for _, result := range run.Results {
		require.Len(t, result.Details, 2, "exactly one outcome per rule per patient")
		assert.Equal(t, 1, result.ChangesMade)
		assert.Equal(t, 1, result.ConditionNotMet)
		for _, detail := range result.Details {
			assert.True(t, models.IsValidOutcomeStatus(detail.Status))
		}
	}
}

func TestExecutor_UnknownRuleRecordedNotFatal(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store, &stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"})

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{99, 21},
		Patients: makePatients(3),
	})
	require.NoError(t, err)

	waitForTerminal(t, executor, submitted.ExecutionID)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	assert.True(t, run.Success, "one successful rule makes the run successful")
	assert.Equal(t, []int{99}, run.RulesWithErrors)
	assert.Equal(t, 1, run.TotalRulesExecuted)
	assert.Contains(t, run.Message, "1 successful, 1 failed")
}

func TestExecutor_RuleFailureDoesNotAbortSiblings(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store,
		&stubEngine{id: 21, panics: true},
		&stubEngine{id: 22, status: models.StatusConditionMetNoChange, reason: "modifier RT already exists"},
	)

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21, 22},
		Patients: makePatients(5),
	})
	require.NoError(t, err)

	progress := waitForTerminal(t, executor, submitted.ExecutionID)
	assert.Equal(t, models.ExecutionCompleted, progress.Status)
	assert.Equal(t, models.ExecutionError, progress.Rules[21].Status)
	assert.Equal(t, models.ExecutionCompleted, progress.Rules[22].Status)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []int{21}, run.RulesWithErrors)
	for _, result := range run.Results {
		require.Len(t, result.Details, 2, "the failed rule still yields one outcome per patient")
		assert.Equal(t, 1, result.Errors)
		assert.Equal(t, 1, result.ConditionMetNoChange)
	}
}

func TestExecutor_MidBatchPanicBackfillsErrorOutcomes(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store,
		&stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added", panicOn: "p-2"},
	)

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21},
		Patients: makePatients(5),
	})
	require.NoError(t, err)

	waitForTerminal(t, executor, submitted.ExecutionID)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []int{21}, run.RulesWithErrors)
	require.Len(t, run.Results, 5)

	for i, result := range run.Results {
		require.Len(t, result.Details, 1, "patient %d", i)
		if i < 2 {
			assert.Equal(t, 1, result.ChangesMade)
		} else {
			assert.Equal(t, 1, result.Errors)
			assert.Contains(t, result.Details[0].Reason, "error:")
		}
	}
}

func TestExecutor_AllRulesFailedMeansRunFailed(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store, &stubEngine{id: 21, panics: true})

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21},
		Patients: makePatients(2),
	})
	require.NoError(t, err)

	progress := waitForTerminal(t, executor, submitted.ExecutionID)
	assert.Equal(t, models.ExecutionError, progress.Status)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	assert.False(t, run.Success)
}

func TestExecutor_BatchProgressCompleteness(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store, &stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"})

	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21},
		Patients: makePatients(23), // not a multiple of the batch size
	})
	require.NoError(t, err)

	progress := waitForTerminal(t, executor, submitted.ExecutionID)
	assert.Equal(t, 23, progress.Rules[21].PatientsProcessed)
	assert.Equal(t, 100.0, progress.Rules[21].Percentage)
}

func TestExecutor_PersistsRunKeyedByProjectID(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store, &stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"})

	submitted, err := executor.Submit(models.RunRequest{
		ProjectID: "proj-1",
		Rules:     []int{21},
		Patients:  makePatients(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "proj-1", submitted.ProjectID)

	waitForTerminal(t, executor, submitted.ExecutionID)

	stored, err := store.FindByProjectID(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, submitted.ExecutionID, stored.ExecutionID)
	assert.Equal(t, models.DefaultProjectName, stored.ProjectName)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestExecutor_RollbackMarksPersistedResults(t *testing.T) {
	store := services.NewMemoryStore()
	engine := &stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"}
	executor := newTestExecutor(store, engine)
	patients := makePatients(2)

	// Forward run persists the results
	submitted, err := executor.Submit(models.RunRequest{
		ProjectID:    "proj-rb",
		Rules:        []int{21},
		AddModifiers: true,
		Patients:     patients,
	})
	require.NoError(t, err)
	waitForTerminal(t, executor, submitted.ExecutionID)

	// Rollback run marks them
	rollback, err := executor.Submit(models.RunRequest{
		ProjectID:  "proj-rb",
		Rules:      []int{21},
		Patients:   patients,
		IsRollback: true,
	})
	require.NoError(t, err)
	waitForTerminal(t, executor, rollback.ExecutionID)

	stored, err := store.FindByProjectID(context.Background(), "proj-rb")
	require.NoError(t, err)
	assert.True(t, stored.IsRollback)
	for _, result := range stored.Results {
		assert.Equal(t, models.RollbackStatusRollbacked, result.RollbackStatus)
		require.NotNil(t, result.RollbackedAt)
	}
}

func TestExecutor_DuplicatePatientsCollapseToOneResult(t *testing.T) {
	store := services.NewMemoryStore()
	executor := newTestExecutor(store, &stubEngine{id: 21, status: models.StatusChangesMade, reason: "modifier 25 added"})

	patient := makePatients(1)[0]
	submitted, err := executor.Submit(models.RunRequest{
		Rules:    []int{21},
		Patients: []models.PatientCase{patient, patient},
	})
	require.NoError(t, err)

	waitForTerminal(t, executor, submitted.ExecutionID)

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Len(t, run.Results[0].Details, 2, "both submissions' outcomes merge into one result")
}
