package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
	"github.com/medofficehq/chargerules/internal/rules"
	"github.com/medofficehq/chargerules/internal/services"
)

// Executor orchestrates rule runs: it validates submissions synchronously,
// then processes rules and patients in the background while the tracker
// exposes pollable progress. Completed runs are cached in memory and
// persisted to the result store.
type Executor struct {
	registry *rules.Registry
	store    services.ResultStore
	tracker  *Tracker
	config   models.ExecutionConfig
	logger   zerolog.Logger

	mu    sync.RWMutex
	cache map[string]models.ExecutionRun
}

// NewExecutor wires an executor over its collaborators.
func NewExecutor(registry *rules.Registry, store services.ResultStore, tracker *Tracker, config models.ExecutionConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		tracker:  tracker,
		config:   config,
		logger:   lib.ComponentLogger(logger, "executor"),
		cache:    make(map[string]models.ExecutionRun),
	}
}

// SubmitResult is the handle returned to the caller at submission time.
type SubmitResult struct {
	ExecutionID string `json:"execution_id"`
	ProjectID   string `json:"project_id"`
}

// Submit validates a run request and launches it in the background.
// Validation failures are the only synchronous errors; everything after
// this point is reported through progress and the persisted run.
func (e *Executor) Submit(request models.RunRequest) (SubmitResult, error) {
	if err := request.Validate(); err != nil {
		return SubmitResult{}, lib.NewValidationError("invalid run request", err)
	}

	if request.ProjectID == "" {
		request.ProjectID = uuid.NewString()
	}
	if request.ProjectName == "" {
		request.ProjectName = models.DefaultProjectName
	}

	executionID := e.tracker.CreateExecution(len(request.Patients), request.Rules, request.ProjectName)

	e.logger.Info().
		Str("execution_id", executionID).
		Str("project_id", request.ProjectID).
		Ints("rules", request.Rules).
		Int("patients", len(request.Patients)).
		Bool("is_rollback", request.IsRollback).
		Msg("run submitted")

	// Fire-and-forget: the submission call returns immediately and the
	// run proceeds to completion or failure on its own.
	go e.run(context.Background(), executionID, request)

	return SubmitResult{ExecutionID: executionID, ProjectID: request.ProjectID}, nil
}

// Tracker exposes the progress tracker for read-side consumers.
func (e *Executor) Tracker() *Tracker {
	return e.tracker
}

// Result returns a completed run by execution id: from the in-memory cache
// first, falling back to the store (e.g. after a process restart).
func (e *Executor) Result(ctx context.Context, executionID string) (*models.ExecutionRun, error) {
	e.mu.RLock()
	run, ok := e.cache[executionID]
	e.mu.RUnlock()
	if ok {
		return &run, nil
	}

	return e.store.FindByExecutionID(ctx, executionID)
}

// run is the background body of one execution.
func (e *Executor) run(ctx context.Context, executionID string, request models.RunRequest) {
	e.tracker.StartExecution(executionID)

	outcomesByPatient := make(map[models.PatientKey][]models.RuleOutcome)
	successfulRules := 0
	rulesWithErrors := []int{}

	for _, ruleID := range request.Rules {
		engine, ok := e.registry.Get(ruleID)
		if !ok {
			e.logger.Warn().Int("rule", ruleID).Str("execution_id", executionID).Msg("unknown rule id")
			rulesWithErrors = append(rulesWithErrors, ruleID)
			e.tracker.FailRule(executionID, ruleID)
			continue
		}

		e.tracker.StartRule(executionID, ruleID)

		outcomes, err := e.runRule(ctx, executionID, engine, request)
		for _, outcome := range outcomes {
			key := models.PatientKey{PatientID: outcome.PatientID, AppointmentID: outcome.AppointmentID}
			outcomesByPatient[key] = append(outcomesByPatient[key], outcome)
		}

		if err != nil {
			e.logger.Error().Err(err).Int("rule", ruleID).Str("execution_id", executionID).Msg("rule failed")
			rulesWithErrors = append(rulesWithErrors, ruleID)
			e.tracker.FailRule(executionID, ruleID)
			backfillErrorOutcomes(ruleID, request.Patients, outcomesByPatient, err)
			continue
		}

		successfulRules++
		e.tracker.CompleteRule(executionID, ruleID)
	}

	results := mergeResults(request.Patients, outcomesByPatient)
	overallSuccess := successfulRules > 0
	message := fmt.Sprintf("Executed %d rules. %d successful, %d failed.",
		len(request.Rules), successfulRules, len(rulesWithErrors))

	run := models.ExecutionRun{
		ProjectID:          request.ProjectID,
		ProjectName:        request.ProjectName,
		ExecutionID:        executionID,
		Rules:              request.Rules,
		Patients:           request.Patients,
		IsRollback:         request.IsRollback,
		Success:            overallSuccess,
		Message:            message,
		Results:            results,
		TotalRulesExecuted: successfulRules,
		RulesWithErrors:    rulesWithErrors,
	}

	persisted, err := e.store.Upsert(ctx, run)
	if err != nil {
		e.logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to persist run")
		e.tracker.SetExecutionError(executionID, fmt.Sprintf("failed to persist run: %v", err))
		return
	}

	if request.IsRollback {
		e.markRollbacked(ctx, request, outcomesByPatient)
	}

	e.mu.Lock()
	e.cache[executionID] = persisted
	e.mu.Unlock()

	e.tracker.CompleteExecution(executionID, overallSuccess)

	e.logger.Info().
		Str("execution_id", executionID).
		Str("project_id", request.ProjectID).
		Bool("success", overallSuccess).
		Int("rules_ok", successfulRules).
		Int("rules_failed", len(rulesWithErrors)).
		Msg("run completed")
}

// runRule processes all patients through one engine in fixed-size batches,
// updating the tracker after each batch. A panic inside the engine is
// caught at the rule boundary so sibling rules still run.
func (e *Executor) runRule(ctx context.Context, executionID string, engine rules.Engine, request models.RunRequest) (outcomes []models.RuleOutcome, err error) {
	var current models.PatientCase
	defer func() {
		if r := recover(); r != nil {
			err = &lib.RuleExecutionError{
				RuleID:    engine.ID(),
				PatientID: current.PatientID,
				Cause:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	batchSize := e.config.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	processed := 0
	for start := 0; start < len(request.Patients); start += batchSize {
		end := start + batchSize
		if end > len(request.Patients) {
			end = len(request.Patients)
		}

		for _, patient := range request.Patients[start:end] {
			current = patient
			var outcome models.RuleOutcome
			if request.IsRollback {
				outcome = engine.Rollback(ctx, patient)
			} else {
				outcome = engine.Run(ctx, patient, request.AddModifiers)
			}
			outcomes = append(outcomes, outcome)
		}

		processed += end - start
		e.tracker.UpdateRuleProgress(executionID, engine.ID(), processed)

		// Give progress pollers a fresh view before the next batch
		if end < len(request.Patients) {
			select {
			case <-ctx.Done():
				return outcomes, ctx.Err()
			case <-time.After(e.config.BatchPause()):
			}
		}
	}

	return outcomes, nil
}

// markRollbacked flags previously persisted patient results whose rollback
// produced changes. Located by project id when the caller supplied one, or
// by scanning all non-archived runs otherwise.
func (e *Executor) markRollbacked(ctx context.Context, request models.RunRequest, outcomesByPatient map[models.PatientKey][]models.RuleOutcome) {
	var keys []models.PatientKey
	for key, outcomes := range outcomesByPatient {
		for _, outcome := range outcomes {
			if outcome.Status == models.StatusChangesMade {
				keys = append(keys, key)
				break
			}
		}
	}
	if len(keys) == 0 {
		return
	}

	marked, err := e.store.UpdateRollbackStatus(ctx, request.ProjectID, keys, time.Now().UTC())
	if err != nil {
		e.logger.Error().Err(err).Str("project_id", request.ProjectID).Msg("failed to mark rollback status")
		return
	}
	e.logger.Info().Int("marked", marked).Str("project_id", request.ProjectID).Msg("rollback status updated")
}

// backfillErrorOutcomes gives every patient still missing an outcome for a
// failed rule an error-status outcome, so each (patient, rule) pair carries
// exactly one outcome even when the rule aborts mid-batch.
func backfillErrorOutcomes(ruleID int, patients []models.PatientCase, outcomesByPatient map[models.PatientKey][]models.RuleOutcome, cause error) {
	for _, patient := range patients {
		key := models.PatientKey{PatientID: patient.PatientID, AppointmentID: patient.AppointmentID}
		if hasOutcomeForRule(outcomesByPatient[key], ruleID) {
			continue
		}
		outcomesByPatient[key] = append(outcomesByPatient[key], models.RuleOutcome{
			RuleID:        ruleID,
			PatientID:     patient.PatientID,
			AppointmentID: patient.AppointmentID,
			Status:        models.StatusError,
			Reason:        fmt.Sprintf("error: %v", cause),
		})
	}
}

func hasOutcomeForRule(outcomes []models.RuleOutcome, ruleID int) bool {
	for _, outcome := range outcomes {
		if outcome.RuleID == ruleID {
			return true
		}
	}
	return false
}

// mergeResults folds per-rule outcomes into one PatientResult per distinct
// patient, preserving submission order.
func mergeResults(patients []models.PatientCase, outcomesByPatient map[models.PatientKey][]models.RuleOutcome) []models.PatientResult {
	results := make([]models.PatientResult, 0, len(patients))
	seen := make(map[models.PatientKey]struct{}, len(patients))

	for _, patient := range patients {
		key := models.PatientKey{PatientID: patient.PatientID, AppointmentID: patient.AppointmentID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		result := models.NewPatientResult(patient)
		for _, outcome := range outcomesByPatient[key] {
			result = models.AddOutcome(result, outcome)
		}
		results = append(results, result)
	}

	return results
}
